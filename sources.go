package main

import (
	// Import all source modules to trigger their init() functions
	_ "github.com/LipPkg/LipIndex/pkg/sources/endstone"
	_ "github.com/LipPkg/LipIndex/pkg/sources/levilamina"
)
