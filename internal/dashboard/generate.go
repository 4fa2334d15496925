// Package dashboard renders Grafana dashboards for the GreptimeDB tables.
package dashboard

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Tables names the tables the panels query.
type Tables struct {
	Axis    string
	Mirror  string
	Summary string
	Events  string
}

// DefaultTables returns the table names the GreptimeDB writer uses.
func DefaultTables() Tables {
	return Tables{
		Axis:    telemetry.AxisTableName,
		Mirror:  telemetry.MirrorTableName,
		Summary: telemetry.SummaryTableName,
		Events:  telemetry.EventTableName,
	}
}

// panel places one axis chart on a two column grid.
type panel struct {
	ID   int
	Name string
	X, Y int
}

// Render executes every dashboard template and writes the result to outDir.
// Templates read the datasource uid from GREPTIMEDB_DATASOURCE_UID.
func Render(outDir string, tables Tables) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}
	data := struct {
		Tables Tables
		Axes   []panel
	}{Tables: tables}
	for i, id := range axis.All {
		data.Axes = append(data.Axes, panel{ID: i + 1, Name: id.String(), X: (i % 2) * 12, Y: (i / 2) * 8})
	}

	names, err := fs.Glob(templates, "templates/*.json.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, name := range names {
		t, err := template.New(filepath.Base(name)).Funcs(funcMap).ParseFS(templates, name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(name), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, data); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
