package supervisor

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/localserve/devsup/pkg/models"
)

var (
	shellPathOnce sync.Once
	shellPath     string
)

// UserShellPath resolves the PATH of the user's interactive login shell.
// The supervising process does not inherit shell rc files, so tools
// installed via nvm, pyenv and friends are invisible without this.
// Computed once per process lifetime; read-only afterwards.
func UserShellPath() string {
	shellPathOnce.Do(func() {
		shellPath = os.Getenv("PATH")

		shell := os.Getenv("SHELL")
		if shell == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		out, err := exec.CommandContext(ctx, shell, "-lc", "echo $PATH").Output()
		if err != nil {
			return
		}
		if p := strings.TrimSpace(string(out)); p != "" {
			shellPath = p
		}
	})
	return shellPath
}

// mergedEnv builds the environment for a service's child processes:
// the host environment with PATH swapped for the real shell PATH, plus
// the definition's overrides. Later entries win on duplicate keys.
func mergedEnv(def *models.ServiceDefinition) []string {
	env := make([]string, 0, len(os.Environ())+len(def.Environment)+1)
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "PATH=") {
			continue
		}
		env = append(env, e)
	}
	env = append(env, "PATH="+UserShellPath())
	for k, v := range def.Environment {
		env = append(env, k+"="+v)
	}
	return env
}
