package assets

import (
	_ "embed"
)

// SitesYAML holds the built-in site profiles.
//
//go:embed sites.yaml
var SitesYAML []byte

// DomJS is a function expression (op, locator, arg) evaluated in the page
// for every DOM operation.
//
//go:embed dom.js
var DomJS string

// StatusJS is a function expression (message, kind) that shows the relay's
// status badge on the page.
//
//go:embed status.js
var StatusJS string
