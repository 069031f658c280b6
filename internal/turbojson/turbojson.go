// Package turbojson parses turbo.json — the task definition file spec.md §6
// describes — into TaskDefinition values with root → workspace-override
// precedence already resolved. It replaces the legacy
// internal/fs.TurboConfigJSON/Pipeline shape, which only carried Outputs,
// Cache, and DependsOn: this adds Inputs, Env, PassThroughEnv, OutputLogs,
// Persistent, Interruptible, Interactive, and EnvMode, the fields
// internal/taskhash and internal/fingerprint need to compute a task
// fingerprint and the executor needs to decide how to run a task.
//
// Comments are permitted in turbo.json (spec.md §6: "JSON (with comments
// permitted by the parser)"), so this package parses through
// github.com/muhammadmuzzammil1998/jsonc the same way the teacher's
// internal/fs.ReadTurboConfigJSON read package.json-adjacent config.
package turbojson

import (
	"os"
	"sort"
	"strings"

	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/pkg/errors"

	"github.com/turbocache/turbo/internal/schemahash"
)

// EnvMode controls how strictly a task's environment is filtered before the
// child process sees it.
type EnvMode string

const (
	// EnvModeInfer picks Strict if any env/passThroughEnv keys are declared
	// anywhere in the config, Loose otherwise — turbo.json's historical
	// default behavior, kept as the zero value so an absent "envMode" key
	// doesn't silently flip strictness.
	EnvModeInfer  EnvMode = ""
	EnvModeLoose  EnvMode = "loose"
	EnvModeStrict EnvMode = "strict"
)

// OutputLogsMode controls how a task's captured output is rendered.
type OutputLogsMode string

const (
	OutputLogsFull       OutputLogsMode = "full"
	OutputLogsHashOnly   OutputLogsMode = "hash-only"
	OutputLogsNewOnly    OutputLogsMode = "new-only"
	OutputLogsErrorsOnly OutputLogsMode = "errors-only"
	OutputLogsNone       OutputLogsMode = "none"
)

// TaskOutputs splits a task's output globs into what to include and what to
// carve back out of that inclusion set, mirroring spec.md §3's
// `outputs: {inclusions, exclusions}`.
type TaskOutputs struct {
	Inclusions []string
	Exclusions []string
}

// TaskDefinition is the fully resolved (root → workspace override)
// configuration for one TaskId. Invariants, per spec.md §3: Interactive
// implies !Cache; Interruptible implies Persistent.
type TaskDefinition struct {
	Outputs        TaskOutputs
	Cache          bool
	CacheSet       bool // whether "cache" was explicitly set anywhere in the chain
	DependsOn      []string
	Inputs         []string
	Env            []string
	PassThroughEnv []string
	DotEnv         []string
	OutputLogsMode OutputLogsMode
	Persistent     bool
	Interruptible  bool
	Interactive    bool
	EnvMode        EnvMode
}

// Validate enforces the invariants spec.md §3 states. Called after every
// merge so a workspace override can't quietly produce an invalid task.
func (d TaskDefinition) Validate() error {
	if d.Interactive && d.Cache {
		return errors.New("interactive tasks cannot be cached")
	}
	if d.Interruptible && !d.Persistent {
		return errors.New("interruptible tasks must be persistent")
	}
	return nil
}

// WriteSchema implements schemahash.Hashable so a TaskDefinition can feed
// directly into the fingerprinter's structural hash. Field order here is
// frozen: changing it changes every fingerprint in existence.
func (d TaskDefinition) WriteSchema(w *schemahash.Writer) {
	w.StringList(d.Outputs.Inclusions, true)
	w.StringList(d.Outputs.Exclusions, true)
	w.Bool(d.Cache)
	w.StringList(d.DependsOn, true)
	w.StringList(d.Inputs, true)
	w.StringList(d.Env, true)
	w.StringList(d.PassThroughEnv, true)
	w.StringList(d.DotEnv, true)
	w.String(string(d.OutputLogsMode))
	w.Bool(d.Persistent)
	w.Bool(d.Interruptible)
	w.Bool(d.Interactive)
	w.String(string(d.EnvMode))
}

// rawTaskDefinition mirrors turbo.json's on-disk task shape. Pointer fields
// distinguish "absent" (inherit from root) from "explicitly false/empty"
// during workspace-override merges.
type rawTaskDefinition struct {
	Outputs        []string `json:"outputs,omitempty"`
	Cache          *bool    `json:"cache,omitempty"`
	DependsOn      []string `json:"dependsOn,omitempty"`
	Inputs         []string `json:"inputs,omitempty"`
	Env            []string `json:"env,omitempty"`
	PassThroughEnv []string `json:"passThroughEnv,omitempty"`
	DotEnv         []string `json:"dotEnv,omitempty"`
	OutputLogs     string   `json:"outputLogs,omitempty"`
	Persistent     *bool    `json:"persistent,omitempty"`
	Interruptible  *bool    `json:"interruptible,omitempty"`
	Interactive    *bool    `json:"interactive,omitempty"`
	EnvMode        string   `json:"envMode,omitempty"`
}

// RootConfig is the parsed contents of the repo-root turbo.json.
type RootConfig struct {
	Schema               string                       `json:"$schema,omitempty"`
	GlobalDependencies   []string                     `json:"globalDependencies,omitempty"`
	GlobalEnv            []string                     `json:"globalEnv,omitempty"`
	GlobalPassThroughEnv []string                     `json:"globalPassThroughEnv,omitempty"`
	Tasks                map[string]rawTaskDefinition `json:"tasks,omitempty"`
	RemoteCache          map[string]interface{}       `json:"remoteCache,omitempty"`
	ExperimentalSpaceID  string                       `json:"experimentalSpaceId,omitempty"`
}

// ReadRootConfig parses the repo-root turbo.json at path. Per spec.md §6, a
// missing turbo.json is fatal unless the caller has opted into
// --allow-no-turbo-json or a synthesized fallback — that decision belongs
// to the caller, so a missing file is surfaced as a plain *PathError here.
func ReadRootConfig(path string) (*RootConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RootConfig
	if err := jsonc.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %v", path)
	}
	return &cfg, nil
}

// ReadWorkspaceConfig parses a per-workspace turbo.json override. The same
// shape as the root file, but only keys present override the root's.
func ReadWorkspaceConfig(path string) (*RootConfig, error) {
	return ReadRootConfig(path)
}

// Resolve merges task name -> raw definition from root and an optional
// workspace override (workspace wins field-by-field), returning the fully
// resolved TaskDefinition for taskName. taskName is the bare task name
// (e.g. "build"), not a TaskId.
func Resolve(root *RootConfig, workspace *RootConfig, taskName string) (TaskDefinition, bool) {
	rawRoot, okRoot := root.Tasks[taskName]
	var rawWs rawTaskDefinition
	okWs := false
	if workspace != nil {
		rawWs, okWs = workspace.Tasks[taskName]
	}
	if !okRoot && !okWs {
		return TaskDefinition{}, false
	}

	def := TaskDefinition{
		OutputLogsMode: OutputLogsFull,
	}
	merge(&def, rawRoot)
	if okWs {
		merge(&def, rawWs)
	}
	return def, true
}

func merge(def *TaskDefinition, raw rawTaskDefinition) {
	if raw.Outputs != nil {
		var incl, excl []string
		for _, o := range raw.Outputs {
			if strings.HasPrefix(o, "!") {
				excl = append(excl, strings.TrimPrefix(o, "!"))
			} else {
				incl = append(incl, o)
			}
		}
		def.Outputs = TaskOutputs{Inclusions: incl, Exclusions: excl}
	}
	if raw.Cache != nil {
		def.Cache = *raw.Cache
		def.CacheSet = true
	} else if !def.CacheSet {
		def.Cache = true
		def.CacheSet = true
	}
	if raw.DependsOn != nil {
		def.DependsOn = raw.DependsOn
	}
	if raw.Inputs != nil {
		def.Inputs = raw.Inputs
	}
	if raw.Env != nil {
		def.Env = raw.Env
	}
	if raw.PassThroughEnv != nil {
		def.PassThroughEnv = raw.PassThroughEnv
	}
	if raw.DotEnv != nil {
		def.DotEnv = raw.DotEnv
	}
	if raw.OutputLogs != "" {
		def.OutputLogsMode = OutputLogsMode(raw.OutputLogs)
	}
	if raw.Persistent != nil {
		def.Persistent = *raw.Persistent
	}
	if raw.Interruptible != nil {
		def.Interruptible = *raw.Interruptible
	}
	if raw.Interactive != nil {
		def.Interactive = *raw.Interactive
	}
	if raw.EnvMode != "" {
		def.EnvMode = EnvMode(raw.EnvMode)
	}
}

// TaskNames returns every task name declared in cfg.Tasks, sorted — used
// wherever a stable iteration order matters (engine construction, schema
// hashing of the whole pipeline).
func (c *RootConfig) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
