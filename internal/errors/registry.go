package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file could not be read or parsed.",
		DocURL:   "https://pagecycle.dev/docs/errors/E100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "No pagecycle.json, pagecycle.yaml or pagecycle.yml was found.",
		DocURL:   "https://pagecycle.dev/docs/errors/E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range or malformed.",
		DocURL:   "https://pagecycle.dev/docs/errors/E102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Unknown session store",
		Detail:   "session.store must be one of memory, sqlite or s3.",
		DocURL:   "https://pagecycle.dev/docs/errors/E103",
	},

	// ============================================
	// Markup Errors (E200-E219)
	// ============================================

	"E200": {
		Category: CategoryMarkup,
		Message:  "Markup not found",
		Detail:   "No markup template exists for the page type.",
		DocURL:   "https://pagecycle.dev/docs/errors/E200",
	},
	"E201": {
		Category: CategoryMarkup,
		Message:  "Unable to resolve component",
		Detail:   "A tagged markup element references a component id that is neither a child of the enclosing container nor claimed by any resolver.",
		DocURL:   "https://pagecycle.dev/docs/errors/E201",
	},
	"E202": {
		Category: CategoryMarkup,
		Message:  "Missing close tag",
		Detail:   "The markup ended before the close tag of an open component tag was found.",
		DocURL:   "https://pagecycle.dev/docs/errors/E202",
	},
	"E203": {
		Category: CategoryMarkup,
		Message:  "Markup stream did not advance",
		Detail:   "A component rendered without consuming its markup element.",
		DocURL:   "https://pagecycle.dev/docs/errors/E203",
	},
	"E204": {
		Category: CategoryMarkup,
		Message:  "Component rendered twice",
		Detail:   "The same component id is referenced more than once in the markup of one container.",
		DocURL:   "https://pagecycle.dev/docs/errors/E204",
	},

	// ============================================
	// Render Errors (E220-E239)
	// ============================================

	"E220": {
		Category: CategoryRender,
		Message:  "Components failed to render",
		Detail:   "A common cause is adding a component in code but forgetting to reference it in the markup.",
		DocURL:   "https://pagecycle.dev/docs/errors/E220",
	},
	"E221": {
		Category: CategoryRender,
		Message:  "Hierarchy locked",
		Detail:   "Components may not be added or removed while the page is rendering.",
		DocURL:   "https://pagecycle.dev/docs/errors/E221",
	},

	// ============================================
	// Version Errors (E300-E319)
	// ============================================

	"E300": {
		Category: CategoryVersion,
		Message:  "Page version unavailable",
		Detail:   "The change history backing the requested version was discarded.",
		DocURL:   "https://pagecycle.dev/docs/errors/E300",
	},
	"E301": {
		Category: CategoryVersion,
		Message:  "Page version not found",
		Detail:   "The requested version is newer than the page's current version.",
		DocURL:   "https://pagecycle.dev/docs/errors/E301",
	},

	// ============================================
	// CLI Errors (E400-E419)
	// ============================================

	"E400": {
		Category: CategoryCLI,
		Message:  "No pages registered",
		Detail:   "The application registry is empty; there is nothing to check.",
		DocURL:   "https://pagecycle.dev/docs/errors/E400",
	},
	"E401": {
		Category: CategoryCLI,
		Message:  "Page construction failed",
		Detail:   "The page factory returned an error.",
		DocURL:   "https://pagecycle.dev/docs/errors/E401",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
