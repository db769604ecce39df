package executor

import (
	"context"
	"fmt"
	"strings"
)

// PackageManager names the tool used to add packages to the project.
type PackageManager string

const (
	Yarn PackageManager = "yarn"
	NPM  PackageManager = "npm"
	PNPM PackageManager = "pnpm"
)

// ParsePackageManager validates a package manager name. Empty means yarn.
func ParsePackageManager(s string) (PackageManager, error) {
	switch pm := PackageManager(strings.ToLower(strings.TrimSpace(s))); pm {
	case "":
		return Yarn, nil
	case Yarn, NPM, PNPM:
		return pm, nil
	default:
		return "", fmt.Errorf("unsupported package manager %q (want yarn, npm or pnpm)", s)
	}
}

// AddArgs returns the argument list that adds pkgs to the workspace root.
func (pm PackageManager) AddArgs(pkgs []string) []string {
	var args []string
	switch pm {
	case NPM:
		args = []string{"install"}
	case PNPM:
		args = []string{"add", "-w"}
	default:
		args = []string{"add", "-W"}
	}
	return append(args, pkgs...)
}

// Install adds pkgs with one package manager invocation.
func Install(ctx context.Context, ex CommandExecutor, pm PackageManager, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	name := string(pm)
	if name == "" {
		name = string(Yarn)
	}
	if _, err := Run(ctx, ex, name, pm.AddArgs(pkgs)...); err != nil {
		return fmt.Errorf("install %s: %w", strings.Join(pkgs, ", "), err)
	}
	return nil
}
