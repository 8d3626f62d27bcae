package pipeline

import (
	"sync"

	"github.com/vulnbuilder/vuln-builder/export"
	"github.com/vulnbuilder/vuln-builder/ghsa"
	"github.com/vulnbuilder/vuln-builder/kevc"
	"github.com/vulnbuilder/vuln-builder/normalize"
	"github.com/vulnbuilder/vuln-builder/nvd"
	"github.com/vulnbuilder/vuln-builder/osv"
	"github.com/vulnbuilder/vuln-builder/source"
	"github.com/vulnbuilder/vuln-builder/vulners"
)

var registerOnce sync.Once

// RegisterDefaults registers the built-in data sources, normalizers and
// export sinks. It is safe to call more than once.
func RegisterDefaults() {
	registerOnce.Do(func() {
		source.Register(nvd.Name, nvd.Factory)
		source.Register(vulners.Name, vulners.Factory)
		source.Register(ghsa.Name, ghsa.Factory)
		source.Register(kevc.Name, kevc.Factory)
		source.Register(osv.Name, osv.Factory)

		normalize.Register("basic", 100, normalize.Basic{})

		export.Register("csv", export.NewCSV)
		export.Register("json", export.NewJSON)
		export.Register("postgres", export.NewPostgres)
	})
}
