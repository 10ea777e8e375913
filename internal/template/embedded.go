package template

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

//go:embed nginx/*.tmpl
var embedded embed.FS

var funcs = template.FuncMap{
	"replace": strings.ReplaceAll,
}

var (
	parseOnce sync.Once
	parsed    map[string]*template.Template
	parseErr  error
)

// driverTemplates returns the parsed template set of a driver. Every
// embedded template is parsed once per process.
func driverTemplates(driverName string) (*template.Template, error) {
	parseOnce.Do(func() {
		parsed = make(map[string]*template.Template)
		dirs, err := fs.ReadDir(embedded, ".")
		if err != nil {
			parseErr = err
			return
		}
		for _, d := range dirs {
			if !d.IsDir() {
				continue
			}
			set, err := template.New(d.Name()).Funcs(funcs).Option("missingkey=error").
				ParseFS(embedded, d.Name()+"/*.tmpl")
			if err != nil {
				parseErr = fmt.Errorf("failed to parse %s templates: %w", d.Name(), err)
				return
			}
			parsed[d.Name()] = set
		}
	})
	if parseErr != nil {
		return nil, parseErr
	}
	set, ok := parsed[driverName]
	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", driverName)
	}
	return set, nil
}
