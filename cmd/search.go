package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/LipPkg/LipIndex/pkg/query"
)

// Define styles using lipgloss
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			Margin(1, 0, 1, 0)

	packageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1).
			Margin(0, 0, 1, 2)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	summaryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("32")).
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("32")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	noDataStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Margin(1, 0)

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Margin(1, 0, 0, 0)
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search indexed packages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "query",
				Usage: "Search query (supports +tag:<tag> terms)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: 10,
			},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "Sort key: hotness or updated",
				Value: index.SortHotness,
			},
			&cli.StringFlag{
				Name:  "order",
				Usage: "Sort order: asc or desc",
				Value: index.OrderDesc,
			},
			&cli.BoolFlag{
				Name:  "no-pager",
				Usage: "Disable pager and output directly to terminal",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return searchPackages(c.String("config"), c.String("query"), c.Int("limit"), c.String("sort"), c.String("order"), c.Bool("no-pager"))
		},
	}
}

// searchPackages queries the local index and renders results grouped by
// platform.
func searchPackages(configPath, queryString string, limit int, sortKey, order string, noPager bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !index.ValidSort(sortKey) {
		return fmt.Errorf("unsupported sort key %q", sortKey)
	}
	if !index.ValidOrder(order) {
		return fmt.Errorf("unsupported sort order %q", order)
	}
	if limit < 1 {
		limit = 1
	}
	if limit > index.MaxPerPage {
		limit = index.MaxPerPage
	}

	ix, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			fmt.Printf("Warning: failed to close index: %v\n", err)
		}
	}()

	result, err := ix.Search(index.SearchOptions{
		Predicate: query.Parse(queryString),
		Page:      1,
		PerPage:   limit,
		Sort:      sortKey,
		Order:     order,
	})
	if err != nil {
		return fmt.Errorf("searching index: %w", err)
	}

	output := formatSearchOutput(queryString, result)

	if noPager || !isTerminal() {
		fmt.Print(output)
		return nil
	}
	return displayWithPager(output)
}

// formatSearchOutput renders the result set grouped by platform tag.
func formatSearchOutput(queryString string, result *index.SearchResult) string {
	var output strings.Builder

	title := "Search results"
	if queryString != "" {
		title = fmt.Sprintf("Search results for %q", queryString)
	}
	output.WriteString(titleStyle.Render(title))
	output.WriteString("\n")

	if len(result.Packages) == 0 {
		output.WriteString(noDataStyle.Render("No packages found."))
		output.WriteString("\n")
		return output.String()
	}

	summary := fmt.Sprintf("Summary: showing %d of %d packages", len(result.Packages), result.TotalCount)
	output.WriteString(summaryStyle.Render(summary))
	output.WriteString("\n")

	groups := groupByPlatform(result.Packages)

	var platforms []string
	for platform := range groups {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	titleCaser := cases.Title(language.English)
	for _, platform := range platforms {
		pkgs := groups[platform]

		header := fmt.Sprintf("%s (%d packages)", titleCaser.String(platform), len(pkgs))
		output.WriteString(headerStyle.Render(header))
		output.WriteString("\n")

		for i, pkg := range pkgs {
			output.WriteString(formatPackage(pkg, i+1))
			output.WriteString("\n")
		}
	}

	return output.String()
}

// groupByPlatform buckets packages by their platform marker tag.
func groupByPlatform(pkgs []*core.Package) map[string][]*core.Package {
	groups := make(map[string][]*core.Package)
	for _, pkg := range pkgs {
		platform := "unknown"
		for _, tag := range pkg.Tags {
			if rest, ok := strings.CutPrefix(tag, "platform:"); ok {
				platform = rest
				break
			}
		}
		groups[platform] = append(groups[platform], pkg)
	}
	return groups
}

// formatPackage formats a single package for display
func formatPackage(pkg *core.Package, idx int) string {
	var content strings.Builder

	header := fmt.Sprintf("#%d - %s", idx, pkg.Name)
	content.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33")).Render(header))
	content.WriteString("\n\n")

	if pkg.Description != "" {
		content.WriteString(pkg.Description)
		content.WriteString("\n")
	}

	if len(pkg.Versions) > 0 {
		latest := pkg.Versions[0]
		content.WriteString(fmt.Sprintf("Latest: v%s (%s)\n", latest.Version, latest.ReleasedAt.Format("2006-01-02")))
	}

	if len(pkg.Tags) > 0 {
		content.WriteString("Tags: " + strings.Join(pkg.Tags, ", ") + "\n")
	}

	if pkg.ProjectURL != "" {
		content.WriteString(urlStyle.Render(pkg.ProjectURL))
	}

	content.WriteString("\n")
	metaInfo := fmt.Sprintf("%s | by %s | %d stars", pkg.Identifier, pkg.Author, pkg.Hotness)
	content.WriteString(metaStyle.Render(metaInfo))

	return packageStyle.Render(content.String())
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// displayWithPager displays content using a pager
func displayWithPager(content string) error {
	// Try to find a suitable pager
	pagerCmd := os.Getenv("PAGER")
	if pagerCmd == "" {
		// Try common pagers in order of preference
		pagers := []string{"less", "more", "cat"}
		for _, pager := range pagers {
			if _, err := exec.LookPath(pager); err == nil {
				pagerCmd = pager
				break
			}
		}
	}

	if pagerCmd == "" {
		// No pager found, output directly
		fmt.Print(content)
		return nil
	}

	// Set up less with good defaults if it's available
	args := []string{}
	if strings.Contains(pagerCmd, "less") {
		args = []string{"-R", "-S", "-F", "-X"}
	}

	cmd := exec.Command(pagerCmd, args...)
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
