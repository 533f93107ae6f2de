// Package config loads, validates, diffs, and watches the monitor
// configuration file (config.yaml).
//
// Top-level types:
//   - Config{Global, Services, Notifiers} — full config tree parsed from YAML
//   - GlobalConfig — check_interval, probe_timeout, max_concurrent_probes,
//     history_size, snapshot_path, listen_addr, api_key_env
//   - ServiceSpec — type (http|tcp|metrics), interval, timeout, endpoint or
//     host/port, auth, tls, per-kind options; comparable so the diff can
//     detect probe-affecting changes with ==
//   - NotifierSpec — type (webhook|slack|teams|email), target, templates,
//     retry policy; secrets are resolved from environment variables
//     (url_env, password_env) rather than stored in the file
//
// Load(path) reads the YAML file, applies defaults, then validates required
// fields and enums. Validation failures name the offending entry and reject
// the whole document.
//
// Compute(old, new) is a pure set-difference over two config snapshots,
// reporting added/removed/updated services and notifiers. It never touches
// the running system.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after a
// rename event. A file that fails to load keeps the previous config active.
package config
