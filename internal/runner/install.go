package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// execInstaller shells out to whichever package manager's lockfile is
// present in the workspace root, same detection order npm/yarn/pnpm
// themselves recommend checking in (pnpm, then yarn, then npm).
type execInstaller struct{}

// NewExecInstaller returns an Installer that runs the workspace's
// package manager install command.
func NewExecInstaller() Installer {
	return execInstaller{}
}

func (execInstaller) Install(ctx context.Context, dir string) error {
	name, args := detectPackageManager(dir)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func detectPackageManager(dir string) (string, []string) {
	if fileExists(filepath.Join(dir, "pnpm-lock.yaml")) {
		return "pnpm", []string{"install", "--no-frozen-lockfile"}
	}
	if fileExists(filepath.Join(dir, "yarn.lock")) {
		return "yarn", []string{"install"}
	}
	return "npm", []string{"install"}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
