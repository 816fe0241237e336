// Package config provides centralized configuration management for the
// operator daemon: the API listen address, ledger endpoint selection,
// protocol identifiers, retry budgets, and security policy thresholds.
// Values are loaded from a JSON file with safe defaults applied for any
// omitted section.
package config
