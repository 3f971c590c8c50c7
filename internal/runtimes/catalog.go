package runtimes

import "github.com/polyhost/polyhost-server/internal/domain"

// DefaultCatalog returns the built-in runtime definitions. Default
// ports sit in the 3000-4000 range; the allocator scans upward from
// them when the default is taken.
func DefaultCatalog() []domain.RuntimeDefinition {
	return []domain.RuntimeDefinition{
		{
			Language: "nodejs", Version: "18",
			DefaultPort:    3000,
			Image:          "node:18-alpine",
			RunCommand:     "node {entry}",
			Entrypoint:     "index.js",
			ManifestFile:   "package.json",
			InstallCommand: "npm install",
			Dependencies:   []string{"nodejs", "npm"},
			Enabled:        true,
		},
		{
			Language: "nodejs", Version: "20",
			DefaultPort:    3000,
			Image:          "node:20-alpine",
			RunCommand:     "node {entry}",
			Entrypoint:     "index.js",
			ManifestFile:   "package.json",
			InstallCommand: "npm install",
			Dependencies:   []string{"nodejs", "npm"},
			Enabled:        true,
		},
		{
			Language: "python", Version: "3.11",
			DefaultPort:    3100,
			Image:          "python:3.11-alpine",
			RunCommand:     "python3 {entry}",
			Entrypoint:     "app.py",
			ManifestFile:   "requirements.txt",
			InstallCommand: "pip3 install -r requirements.txt",
			Dependencies:   []string{"python3", "python3-pip"},
			Enabled:        true,
		},
		{
			Language: "python", Version: "3.12",
			DefaultPort:    3100,
			Image:          "python:3.12-alpine",
			RunCommand:     "python3 {entry}",
			Entrypoint:     "app.py",
			ManifestFile:   "requirements.txt",
			InstallCommand: "pip3 install -r requirements.txt",
			Dependencies:   []string{"python3", "python3-pip"},
			Enabled:        true,
		},
		{
			Language: "php", Version: "8.2",
			DefaultPort:    3200,
			Image:          "php:8.2-cli-alpine",
			RunCommand:     "php -S 0.0.0.0:{port} -t .",
			Entrypoint:     "index.php",
			ManifestFile:   "composer.json",
			InstallCommand: "composer install",
			Dependencies:   []string{"php-cli"},
			Enabled:        true,
		},
		{
			Language: "php", Version: "8.3",
			DefaultPort:    3200,
			Image:          "php:8.3-cli-alpine",
			RunCommand:     "php -S 0.0.0.0:{port} -t .",
			Entrypoint:     "index.php",
			ManifestFile:   "composer.json",
			InstallCommand: "composer install",
			Dependencies:   []string{"php-cli"},
			Enabled:        true,
		},
		{
			Language: "ruby", Version: "3.2",
			DefaultPort:    3300,
			Image:          "ruby:3.2-alpine",
			RunCommand:     "ruby {entry}",
			Entrypoint:     "app.rb",
			ManifestFile:   "Gemfile",
			InstallCommand: "bundle install",
			Dependencies:   []string{"ruby", "ruby-bundler"},
			Enabled:        true,
		},
		{
			Language: "go", Version: "1.22",
			DefaultPort:  3400,
			Image:        "golang:1.22-alpine",
			RunCommand:   "go run {entry}",
			Entrypoint:   "main.go",
			Dependencies: []string{"golang"},
			Enabled:      true,
		},
		{
			Language: "static", Version: "1",
			DefaultPort:  3500,
			Image:        "nginx:alpine",
			RunCommand:   "python3 -m http.server {port}",
			Entrypoint:   "index.html",
			Dependencies: []string{"python3"},
			Enabled:      true,
		},
	}
}
