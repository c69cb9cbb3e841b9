package model

// AutomationType is a kind of automation the remote can instantiate.
type AutomationType struct {
	Type         string
	Name         string
	Description  string
	ConfigSchema []ConfigField
}

// ConfigField describes one configuration parameter accepted when starting an automation.
type ConfigField struct {
	Key      string
	Label    string
	Type     string
	Required bool
	Default  string
	Options  []string
}
