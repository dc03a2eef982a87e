package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// formatNumber formats a number with K/M suffixes for readability
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	} else if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	} else {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
}

// formatTime formats a time relative to now or as an absolute date
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	// If it's within the last day, show relative time
	if diff < 24*time.Hour {
		if diff < time.Hour {
			minutes := int(diff.Minutes())
			if minutes < 1 {
				return "just now"
			}
			return fmt.Sprintf("%d minutes ago", minutes)
		}
		hours := int(diff.Hours())
		return fmt.Sprintf("%d hours ago", hours)
	}

	// If it's within the last week, show days ago
	if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%d days ago", days)
	}

	// Otherwise show the date
	if t.Year() == now.Year() {
		return t.Format("Jan 2, 15:04")
	}
	return t.Format("Jan 2, 2006")
}

// formatIndexStats formats index statistics for display
func formatIndexStats(stats map[string]interface{}) {
	// Print summary
	fmt.Printf("📊 Index Statistics\n")
	fmt.Printf("═══════════════════════\n\n")

	totalPackages, _ := stats["total_packages"].(int)
	fmt.Printf("Total packages: %s\n", formatNumber(totalPackages))

	if newest, ok := stats["newest_update"].(time.Time); ok {
		fmt.Printf("Newest update: %s\n", formatTime(newest))
	}
	fmt.Printf("\n")

	// Get platform keys and sort them
	var platformKeys []string
	for key := range stats {
		if strings.HasPrefix(key, "packages_") {
			platformKeys = append(platformKeys, key)
		}
	}
	sort.Strings(platformKeys)

	if len(platformKeys) == 0 {
		fmt.Printf("No platforms configured yet.\n")
		return
	}

	fmt.Printf("Platform Details:\n")
	fmt.Printf("───────────────────\n")

	for _, key := range platformKeys {
		name := strings.TrimPrefix(key, "packages_")
		count, _ := stats[key].(int)

		fmt.Printf("📁 %s: %s", name, formatNumber(count))

		// Calculate percentage
		if count > 0 && totalPackages > 0 {
			percentage := float64(count) / float64(totalPackages) * 100
			fmt.Printf(" (%.1f%%)", percentage)
		}
		fmt.Printf("\n")
	}
}
