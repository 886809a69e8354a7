package recipe

import (
	"fmt"
	"strings"
)

// Parameters of the reference web application recipe. Zero values select
// the defaults.
type DjangoOptions struct {
	Base     string   // Base image. Default "python:3.12-slim".
	Packages []string // OS packages. Default ["postgresql-client"].
	Manifest string   // Dependency manifest. Default "requirements.txt".
	Workdir  string   // Default "/app".
	Port     int      // Default 8000.
}

func (o DjangoOptions) withDefaults() DjangoOptions {
	if o.Base == "" {
		o.Base = "python:3.12-slim"
	}
	if o.Packages == nil {
		o.Packages = []string{"postgresql-client"}
	}
	if o.Manifest == "" {
		o.Manifest = DefaultManifest
	}
	if o.Workdir == "" {
		o.Workdir = "/app"
	}
	if o.Port == 0 {
		o.Port = 8000
	}
	return o
}

// Returns the recipe for a Django-style application image.
//
// The manifest is copied and installed on its own before the rest of the
// tree, so editing application source reuses the dependency layers. The
// image starts the framework's development server on all interfaces.
func Django(opts DjangoOptions) *Recipe {
	opts = opts.withDefaults()

	steps := []Step{
		{Env: map[string]string{
			"PYTHONDONTWRITEBYTECODE": "1",
			"PYTHONUNBUFFERED":        "1",
		}},
		{Workdir: opts.Workdir},
	}

	if len(opts.Packages) > 0 {
		steps = append(steps, Step{
			Run: "apt-get update && apt-get install -y --no-install-recommends " +
				strings.Join(opts.Packages, " ") +
				" && rm -rf /var/lib/apt/lists/*",
		})
	}

	port := fmt.Sprintf("%d", opts.Port)
	steps = append(steps,
		Step{Copy: opts.Manifest + " ."},
		Step{Run: "pip install --upgrade pip && pip install -r " + opts.Manifest},
		Step{Copy: ". ."},
		Step{Expose: []string{port + "/tcp"}},
		Step{Cmd: []string{"python", "manage.py", "runserver", "0.0.0.0:" + port}},
	)

	return &Recipe{
		Manifest: opts.Manifest,
		Stages: []Stage{{
			From:  opts.Base,
			Steps: steps,
		}},
	}
}
