package typings

import (
	"strings"

	"github.com/typewatch/typewatch/pkg/runner"
)

// Operation is the kind of change applied to a types package.
type Operation string

const (
	// OperationInstall adds the types package to the project.
	OperationInstall Operation = "install"

	// OperationUninstall removes the types package from the project.
	OperationUninstall Operation = "uninstall"
)

// Flavor selects the package manager used to run commands.
type Flavor string

const (
	// FlavorNPM runs npm.
	FlavorNPM Flavor = "npm"

	// FlavorYarn runs yarn.
	FlavorYarn Flavor = "yarn"
)

// typesScope is the registry scope that hosts DefinitelyTyped packages.
const typesScope = "@types/"

// FlavorFor maps the "use yarn" setting to a Flavor.
func FlavorFor(useYarn bool) Flavor {
	if useYarn {
		return FlavorYarn
	}
	return FlavorNPM
}

// TypesPackage returns the DefinitelyTyped package for a dependency name.
// Scoped names follow the registry convention: @scope/pkg -> @types/scope__pkg.
func TypesPackage(name string) string {
	if strings.HasPrefix(name, "@") {
		if i := strings.Index(name, "/"); i > 1 && i < len(name)-1 {
			return typesScope + name[1:i] + "__" + name[i+1:]
		}
	}
	return typesScope + name
}

// IsTypesPackage reports whether name already is a type-declarations package.
func IsTypesPackage(name string) bool {
	return strings.HasPrefix(name, typesScope)
}

// Command builds the package-manager invocation for op on pkg. dev selects
// development-dependency bookkeeping.
func (f Flavor) Command(op Operation, pkg string, dev bool) runner.Command {
	var args []string

	switch f {
	case FlavorYarn:
		switch op {
		case OperationInstall:
			args = []string{"add", pkg}
			if dev {
				args = append(args, "--dev")
			}
		case OperationUninstall:
			// yarn remove drops the entry from whichever section holds it.
			args = []string{"remove", pkg}
		}
	default:
		save := "--save"
		if dev {
			save = "--save-dev"
		}
		args = []string{string(op), pkg, save}
	}

	return runner.Command{Name: f.executable(), Args: args}
}

func (f Flavor) executable() string {
	if f == FlavorYarn {
		return "yarn"
	}
	return "npm"
}

// Classify maps a finished command to a Status. runErr is the error returned
// by the runner, if any.
func (f Flavor) Classify(res runner.Result, runErr error) Status {
	if f.notFound(res.Stderr) {
		return StatusNotFound
	}
	if runErr != nil || res.ExitCode != 0 || f.errored(res.Stderr) {
		return StatusFailed
	}
	return StatusSucceeded
}

func (f Flavor) errored(stderr string) bool {
	if f == FlavorYarn {
		return hasLinePrefix(stderr, "error")
	}
	return strings.Contains(stderr, "ERR!") || hasLinePrefix(stderr, "npm error")
}

func (f Flavor) notFound(stderr string) bool {
	if f == FlavorYarn {
		return f.errored(stderr) && (strings.Contains(stderr, "Couldn't find package") ||
			strings.Contains(stderr, "Not found") ||
			strings.Contains(stderr, "404"))
	}
	return strings.Contains(stderr, "ERR! 404") || strings.Contains(stderr, "E404")
}

func hasLinePrefix(text, prefix string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			return true
		}
	}
	return false
}
