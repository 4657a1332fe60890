package gradeworker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cms-dev/cms/internal/domain"
)

// executableNameFor strips the source file's extension, giving the name
// the compiled binary is written under.
func executableNameFor(sourceName string) string {
	ext := filepath.Ext(sourceName)
	return strings.TrimSuffix(sourceName, ext)
}

// compileCommand returns the shell-out command for compiled languages.
// Interpreted languages (anything not in this table) report ok=false:
// their source file doubles as the "executable".
func compileCommand(language, sourcePath, executablePath string) (cmd []string, ok bool) {
	switch language {
	case "C":
		return []string{"gcc", "-O2", "-static", "-o", executablePath, sourcePath}, true
	case "C++", "C++11", "C++14", "C++17", "C++20":
		return []string{"g++", "-O2", "-std=c++17", "-static", "-o", executablePath, sourcePath}, true
	default:
		return nil, false
	}
}

// checkerManager picks the grading manager for a dataset: the one named
// by preferredName if set (nil when no manager has that name), otherwise
// the dataset's first manager, or nil when the dataset has none
// (meaning: fall back to a white diff).
func checkerManager(managers []domain.Manager, preferredName string) *domain.Manager {
	if len(managers) == 0 {
		return nil
	}
	if preferredName != "" {
		for i := range managers {
			if managers[i].Filename == preferredName {
				return &managers[i]
			}
		}
		return nil
	}
	return &managers[0]
}

// whiteDiff compares two byte streams ignoring any run of whitespace,
// matching the source's white_diff: tokens must match exactly, trailing
// blank lines don't matter.
func whiteDiff(a, b []byte) bool {
	fa, fb := strings.Fields(string(a)), strings.Fields(string(b))
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

// parseCheckerOutput reads a manager's stdout: the first line is the
// numeric outcome, the second (optional) line is the feedback text.
func parseCheckerOutput(path string) (outcome, text string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return "", "", fmt.Errorf("gradeworker: manager produced no output")
	}
	outcome = strings.TrimSpace(scanner.Text())
	if scanner.Scan() {
		text = strings.TrimSpace(scanner.Text())
	}
	if outcome == "" {
		return "", "", fmt.Errorf("gradeworker: manager produced an empty outcome")
	}
	return outcome, text, nil
}
