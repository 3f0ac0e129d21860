// Package installer rewrites host application configs so their MCP server
// entries launch through the jadegate proxy, and restores them on
// uninstall. A sibling backup of each touched file is kept for atomic
// rollback.
package installer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Marker set on every wrapped server entry.
const Marker = "__jadegate_protected__"

// BackupSuffix names the sibling backup written before the first rewrite.
const BackupSuffix = ".jadegate-backup"

const (
	origCommandKey = "_original_command"
	origArgsKey    = "_original_args"
)

// Client describes one known host application's config location.
type Client struct {
	Name        string
	ConfigPaths []string
	// ServersKey is the top-level key holding server definitions.
	ServersKey string
}

// KnownClients returns the host applications the installer can discover on
// this platform. The first existing path per client is used.
func KnownClients() []Client {
	var claudePaths, cursorPaths []string
	switch runtime.GOOS {
	case "darwin":
		claudePaths = []string{"~/Library/Application Support/Claude/claude_desktop_config.json"}
		cursorPaths = []string{"~/Library/Application Support/Cursor/mcp.json", "~/.cursor/mcp.json"}
	case "windows":
		claudePaths = []string{"$APPDATA/Claude/claude_desktop_config.json"}
		cursorPaths = []string{"$APPDATA/Cursor/mcp.json", "~/.cursor/mcp.json"}
	default:
		claudePaths = []string{
			"~/.config/claude/claude_desktop_config.json",
			"~/.config/Claude/claude_desktop_config.json",
		}
		cursorPaths = []string{"~/.cursor/mcp.json", "~/.config/cursor/mcp.json"}
	}
	return []Client{
		{Name: "Claude Desktop", ConfigPaths: claudePaths, ServersKey: "mcpServers"},
		{Name: "Cursor", ConfigPaths: cursorPaths, ServersKey: "mcpServers"},
	}
}

// Result reports the outcome of processing one config file.
type Result struct {
	ClientName       string `json:"client"`
	ConfigPath       string `json:"config"`
	ServersFound     int    `json:"servers_found"`
	ServersWrapped   int    `json:"servers_wrapped"`
	AlreadyProtected int    `json:"already_protected"`
	BackupPath       string `json:"backup,omitempty"`
	Error            string `json:"error,omitempty"`
	Success          bool   `json:"success"`
}

// Installer wraps and unwraps MCP server entries in host configs.
type Installer struct {
	binary  string
	clients []Client
	log     *slog.Logger
}

// New builds an installer. binary is the jadegate executable path; empty
// resolves via PATH with a bare "jadegate" fallback.
func New(binary string, log *slog.Logger) *Installer {
	if binary == "" {
		if found, err := exec.LookPath("jadegate"); err == nil {
			binary = found
		} else {
			binary = "jadegate"
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Installer{binary: binary, clients: KnownClients(), log: log}
}

func expand(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	return path
}

// Install protects the given config files, or every detected known client
// config when paths is empty.
func (in *Installer) Install(paths []string) []Result {
	var results []Result
	for _, target := range in.resolveTargets(paths) {
		results = append(results, in.installConfig(target.client, target.path))
	}
	return results
}

// Uninstall restores the given config files, or every detected known
// client config when paths is empty.
func (in *Installer) Uninstall(paths []string) []Result {
	var results []Result
	for _, target := range in.resolveTargets(paths) {
		results = append(results, in.uninstallConfig(target.client, target.path))
	}
	return results
}

type target struct {
	client Client
	path   string
}

func (in *Installer) resolveTargets(paths []string) []target {
	if len(paths) > 0 {
		out := make([]target, 0, len(paths))
		for _, p := range paths {
			out = append(out, target{
				client: Client{Name: "Custom", ServersKey: "mcpServers"},
				path:   expand(p),
			})
		}
		return out
	}
	var out []target
	for _, client := range in.clients {
		for _, tmpl := range client.ConfigPaths {
			path := expand(tmpl)
			if _, err := os.Stat(path); err == nil {
				out = append(out, target{client: client, path: path})
				break
			}
		}
	}
	return out
}

func (in *Installer) installConfig(client Client, path string) Result {
	res := Result{ClientName: client.Name, ConfigPath: path, Success: true}

	data, err := os.ReadFile(path)
	if err != nil {
		return failed(res, fmt.Errorf("read config: %w", err))
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return failed(res, fmt.Errorf("parse config: %w", err))
	}

	servers, ok := doc[client.ServersKey].(map[string]interface{})
	if !ok || len(servers) == 0 {
		return res
	}
	res.ServersFound = len(servers)

	backup := path + BackupSuffix
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		if err := os.WriteFile(backup, data, 0o600); err != nil {
			return failed(res, fmt.Errorf("write backup: %w", err))
		}
	}
	res.BackupPath = backup

	for name, raw := range servers {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		switch in.wrapEntry(entry) {
		case wrapped:
			res.ServersWrapped++
			in.log.Info("protected server", "client", client.Name, "server", name)
		case alreadyProtected:
			res.AlreadyProtected++
		}
	}

	if err := writeConfig(path, doc); err != nil {
		return failed(res, err)
	}
	return res
}

func (in *Installer) uninstallConfig(client Client, path string) Result {
	res := Result{ClientName: client.Name, ConfigPath: path, Success: true}

	// Restoring the backup is the atomic path; structural unwrap is the
	// fallback for configs edited since install.
	backup := path + BackupSuffix
	if backupData, err := os.ReadFile(backup); err == nil {
		if err := os.WriteFile(path, backupData, 0o600); err != nil {
			return failed(res, fmt.Errorf("restore backup: %w", err))
		}
		os.Remove(backup)
		res.BackupPath = "(restored from backup)"
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failed(res, fmt.Errorf("read config: %w", err))
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return failed(res, fmt.Errorf("parse config: %w", err))
	}
	servers, ok := doc[client.ServersKey].(map[string]interface{})
	if !ok {
		return res
	}
	res.ServersFound = len(servers)

	for _, raw := range servers {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if unwrapEntry(entry) {
			res.ServersWrapped++
		}
	}

	if err := writeConfig(path, doc); err != nil {
		return failed(res, err)
	}
	return res
}

type wrapOutcome int

const (
	notWrapped wrapOutcome = iota
	wrapped
	alreadyProtected
)

func (in *Installer) wrapEntry(entry map[string]interface{}) wrapOutcome {
	if protected, _ := entry[Marker].(bool); protected {
		return alreadyProtected
	}
	command, _ := entry["command"].(string)
	if command == "" {
		return notWrapped
	}
	args, _ := entry["args"].([]interface{})

	entry[origCommandKey] = command
	entry[origArgsKey] = append([]interface{}{}, args...)

	newArgs := make([]interface{}, 0, len(args)+2)
	newArgs = append(newArgs, "proxy", command)
	newArgs = append(newArgs, args...)
	entry["command"] = in.binary
	entry["args"] = newArgs
	entry[Marker] = true
	return wrapped
}

func unwrapEntry(entry map[string]interface{}) bool {
	if protected, _ := entry[Marker].(bool); !protected {
		return false
	}
	if command, _ := entry[origCommandKey].(string); command != "" {
		entry["command"] = command
		if args, ok := entry[origArgsKey].([]interface{}); ok {
			entry["args"] = args
		} else {
			entry["args"] = []interface{}{}
		}
	}
	delete(entry, Marker)
	delete(entry, origCommandKey)
	delete(entry, origArgsKey)
	return true
}

// Status reports, per detected client config, how many servers are
// protected.
func (in *Installer) Status() []Result {
	var out []Result
	for _, t := range in.resolveTargets(nil) {
		res := Result{ClientName: t.client.Name, ConfigPath: t.path, Success: true}
		data, err := os.ReadFile(t.path)
		if err != nil {
			out = append(out, failed(res, err))
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			out = append(out, failed(res, err))
			continue
		}
		if servers, ok := doc[t.client.ServersKey].(map[string]interface{}); ok {
			res.ServersFound = len(servers)
			for _, raw := range servers {
				if entry, ok := raw.(map[string]interface{}); ok {
					if protected, _ := entry[Marker].(bool); protected {
						res.AlreadyProtected++
					}
				}
			}
		}
		out = append(out, res)
	}
	return out
}

func writeConfig(path string, doc map[string]interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func failed(res Result, err error) Result {
	res.Error = err.Error()
	res.Success = false
	return res
}
