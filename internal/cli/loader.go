package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/tetherdb/tether"
)

// ClassDef is one class mapping as declared in a CUE file.
type ClassDef struct {
	Name    string      `json:"name"`
	Table   string      `json:"table"`
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef is one column mapping as declared in a CUE file.
type ColumnDef struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Primary bool   `json:"primary"`
	Auto    bool   `json:"auto"`
}

// Mapping is the decoded content of a mapping directory.
type Mapping struct {
	Classes []ClassDef `json:"classes"`

	// FileCount is the number of CUE files found.
	FileCount int `json:"-"`
}

// kindNames maps the mapping-file kind names to column kinds.
var kindNames = map[string]tether.Kind{
	"int":   tether.KindInt,
	"float": tether.KindFloat,
	"text":  tether.KindText,
	"bool":  tether.KindBool,
	"bytes": tether.KindBytes,
	"time":  tether.KindTime,
	"uuid":  tether.KindUUID,
}

// LoadMapping loads class mappings from every CUE file in a directory.
// Mapping files declare a top-level "classes" list:
//
//	classes: [{
//		name:  "Person"
//		table: "person"
//		columns: [
//			{name: "id", kind: "int", primary: true, auto: true},
//			{name: "name", kind: "text"},
//		]
//	}]
func LoadMapping(dir string) (*Mapping, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("mapping directory not found: %s", dir))
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "error accessing mapping directory", err)
	}
	if !info.IsDir() {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "error scanning directory", err)
	}
	if len(cueFiles) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no CUE files found in %s", dir))
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, NewExitError(ExitCommandError, "no CUE instances loaded")
	}
	if instances[0].Err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load mapping", instances[0].Err)
	}
	value := ctx.BuildInstance(instances[0])
	if value.Err() != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build mapping", value.Err())
	}

	classesValue := value.LookupPath(cue.ParsePath("classes"))
	if !classesValue.Exists() {
		return nil, NewExitError(ExitCommandError, "mapping has no top-level \"classes\" list")
	}
	m := &Mapping{FileCount: len(cueFiles)}
	if err := classesValue.Decode(&m.Classes); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid mapping", err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// check validates the decoded mapping before classes are built from it.
func (m *Mapping) check() error {
	seen := make(map[string]bool)
	for _, def := range m.Classes {
		if def.Name == "" || def.Table == "" {
			return NewExitError(ExitCommandError, "every class needs a name and a table")
		}
		if seen[def.Name] {
			return NewExitError(ExitCommandError, fmt.Sprintf("duplicate class %q", def.Name))
		}
		seen[def.Name] = true
		if len(def.Columns) == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("class %q has no columns", def.Name))
		}
		primary := 0
		for _, col := range def.Columns {
			if _, ok := kindNames[col.Kind]; !ok {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("class %q column %q: unknown kind %q", def.Name, col.Name, col.Kind))
			}
			if col.Primary || col.Auto {
				primary++
			}
		}
		if primary == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("class %q has no primary key", def.Name))
		}
	}
	return nil
}

// BuildClasses turns the mapping into live class declarations, keyed by
// class name.
func (m *Mapping) BuildClasses() map[string]*tether.Class {
	classes := make(map[string]*tether.Class, len(m.Classes))
	for _, def := range m.Classes {
		class := tether.NewClass(def.Name, def.Table)
		for _, col := range def.Columns {
			var opts []tether.ColumnOption
			switch {
			case col.Auto && col.Kind == "uuid":
				opts = append(opts, tether.AutoUUID())
			case col.Auto:
				opts = append(opts, tether.AutoIncrement())
			case col.Primary:
				opts = append(opts, tether.Primary())
			}
			class.Column(col.Name, kindNames[col.Kind], opts...)
		}
		classes[def.Name] = class
	}
	return classes
}

// findCUEFiles returns the CUE files directly inside dir, sorted by name.
func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cue") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
