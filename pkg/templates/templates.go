// Package templates renders scheduler group scripts from a fixed set of
// named slots.
//
// Templates live in an fs.FS laid out as <backend>/group/<file>. Files
// ending in ".tmpl" are rendered with text/template; other files are static
// helpers copied verbatim. The templater knows nothing about sweeps or runs.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	scriptsassets "github.com/3leaps/gosweep/internal/assets/scripts"
)

// Template file names inside a backend group directory.
const (
	GroupEnvTemplate = "group-env.sh.tmpl"
	SubmitTemplate   = "submit.sh.tmpl"
	BatchTemplate    = "batch.sh.tmpl"
	MonitorTemplate  = "monitor.sh.tmpl"

	templateExt = ".tmpl"
)

// ErrBackendNotFound is returned when the backend has no template directory.
var ErrBackendNotFound = errors.New("backend template directory not found")

// Slots are the named values available to every template.
type Slots struct {
	Backend string

	// Walltime is in seconds; WalltimeClock is HH:MM:SS.
	Walltime      int
	WalltimeClock string

	MaxProcs         int
	ProcessesPerNode int
	Nodes            int
	NodeExclusive    bool

	Account    string
	Queue      string
	Constraint string
	License    string

	CampaignName string
	GroupName    string
	GroupDir     string

	BatchScript  string
	JobIDFile    string
	SubmitOut    string
	RunOut       string
	WalltimeFile string
}

// BatchData is the data for the batch template: the slots plus the shell
// lines that run every run of the group.
type BatchData struct {
	Slots
	Commands []string
}

// Templater renders backend templates from a filesystem.
type Templater struct {
	fsys fs.FS
}

// New returns a templater over fsys.
func New(fsys fs.FS) *Templater {
	return &Templater{fsys: fsys}
}

// Default returns a templater over the built-in backend templates.
func Default() *Templater {
	return New(scriptsassets.FS)
}

// FromDir returns a templater over an on-disk template root. An empty dir
// yields the built-in templates.
func FromDir(dir string) *Templater {
	if strings.TrimSpace(dir) == "" {
		return Default()
	}
	return New(os.DirFS(dir))
}

func groupDir(backend string) string {
	return path.Join(backend, "group")
}

// HasBackend reports whether the backend's template directory exists.
func (t *Templater) HasBackend(backend string) bool {
	if backend == "" || strings.ContainsAny(backend, `/\`) || backend == "." || backend == ".." {
		return false
	}
	info, err := fs.Stat(t.fsys, groupDir(backend))
	return err == nil && info.IsDir()
}

// Backends lists the backends that have a template directory.
func (t *Templater) Backends() ([]string, error) {
	entries, err := fs.ReadDir(t.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read template root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && t.HasBackend(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Render executes the named template of backend with data.
func (t *Templater) Render(backend, name string, data any) ([]byte, error) {
	if !t.HasBackend(backend) {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, backend)
	}
	src, err := fs.ReadFile(t.fsys, path.Join(groupDir(backend), name))
	if err != nil {
		return nil, fmt.Errorf("read template %s/%s: %w", backend, name, err)
	}

	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"quote": ShellQuote}).
		Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s/%s: %w", backend, name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s/%s: %w", backend, name, err)
	}
	return buf.Bytes(), nil
}

// RenderFile renders the named template into dst with the given mode.
func (t *Templater) RenderFile(backend, name, dst string, mode os.FileMode, data any) error {
	b, err := t.Render(backend, name, data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, b, mode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	// WriteFile does not change the mode of an existing file.
	if err := os.Chmod(dst, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

// CopyStatic copies every non-template file of the backend group directory
// into dstDir and returns the copied names. Shell scripts are made executable.
func (t *Templater) CopyStatic(backend, dstDir string) ([]string, error) {
	if !t.HasBackend(backend) {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, backend)
	}
	entries, err := fs.ReadDir(t.fsys, groupDir(backend))
	if err != nil {
		return nil, fmt.Errorf("read templates for %s: %w", backend, err)
	}

	var copied []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), templateExt) {
			continue
		}
		b, err := fs.ReadFile(t.fsys, path.Join(groupDir(backend), e.Name()))
		if err != nil {
			return copied, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		mode := os.FileMode(0644)
		if strings.HasSuffix(e.Name(), ".sh") {
			mode = 0755
		}
		dst := filepath.Join(dstDir, e.Name())
		if err := os.WriteFile(dst, b, mode); err != nil {
			return copied, fmt.Errorf("write %s: %w", dst, err)
		}
		copied = append(copied, e.Name())
	}
	return copied, nil
}
