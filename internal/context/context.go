package context

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turbocache/turbo/internal/config"
	"github.com/turbocache/turbo/internal/core"
	"github.com/turbocache/turbo/internal/fs"
	"github.com/turbocache/turbo/internal/fs/globby"
	"github.com/turbocache/turbo/internal/lockfile"
	"github.com/turbocache/turbo/internal/packagemanager"
	"github.com/turbocache/turbo/internal/turbopath"
	"github.com/turbocache/turbo/internal/util"
	"github.com/turbocache/turbo/internal/workspace"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/chrometracing"
	"github.com/pyr-sh/dag"
	gitignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"
)

const GLOBAL_CACHE_KEY = "snozzberries"

// Context of the CLI
type Context struct {
	Args                   []string
	PackageInfos           map[interface{}]*fs.PackageJSON
	ColorCache             *ColorCache
	PackageNames           []string
	TopologicalGraph       dag.AcyclicGraph
	TaskGraph              dag.AcyclicGraph
	Dir                    string
	RootNode               string
	RootPackageJSON        *fs.PackageJSON
	GlobalHashableEnvPairs []string
	GlobalHashableEnvNames []string
	GlobalHash             string
	TraceFilePath          string
	Lockfile               lockfile.Lockfile
	SCC                    [][]dag.Vertex
	Targets                []string
	PackageManager         *packagemanager.PackageManager
	// WorkspaceInfos mirrors PackageInfos keyed by package name, for
	// consumers that want the workspace.Catalog shape directly.
	WorkspaceInfos workspace.Catalog
	// Used to arbitrate access to the graph. We parallelise most build operations
	// and Go maps aren't natively threadsafe so this is needed.
	mutex sync.Mutex
}

// Option is used to configure context
type Option func(*Context) error

// New initializes run context
func New(opts ...Option) (*Context, error) {
	var m Context
	for _, opt := range opts {
		if err := opt(&m); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// WithArgs sets the arguments to the command that are used for parsing.
// Remaining arguments can be accessed using your flag set and asking for Args.
// Example: c.Flags().Args().
func WithArgs(args []string) Option {
	return func(c *Context) error {
		c.Args = args
		return nil
	}
}

func WithTracer(filename string) Option {
	return func(c *Context) error {
		if filename != "" {
			chrometracing.EnableTracing()
			c.TraceFilePath = filename
		}
		return nil
	}
}

func WithGraph(rootpath string, config *config.Config) Option {
	return func(c *Context) error {
		c.PackageInfos = make(map[interface{}]*fs.PackageJSON)
		c.ColorCache = NewColorCache()
		c.RootNode = core.ROOT_NODE_NAME
		// Need to ALWAYS have a root node, might as well do it now
		c.TaskGraph.Add(core.ROOT_NODE_NAME)

		cwdRaw, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not get cwd: %w", err)
		}
		cwd, err := fs.CheckedToAbsoluteSystemPath(cwdRaw)
		if err != nil {
			return fmt.Errorf("cwd is not an absolute path %v: %w", cwdRaw, err)
		}

		pkg, err := fs.ReadPackageJSON(cwd.UntypedJoin("package.json"))
		if err != nil {
			return fmt.Errorf("package.json: %w", err)
		}
		c.RootPackageJSON = pkg

		pm, err := packagemanager.GetPackageManager(cwd, pkg)
		if err != nil {
			return err
		}
		c.PackageManager = pm

		contents, err := os.ReadFile(filepath.Join(cwd.ToString(), pm.Lockfile))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", pm.Lockfile, err)
		}
		if err == nil && pm.UnmarshalLockfile != nil {
			decoded, err := pm.UnmarshalLockfile(pkg, contents)
			if err != nil {
				return fmt.Errorf("%s: %w", pm.Lockfile, err)
			}
			c.Lockfile = decoded
		}

		if c.ResolveWorkspaceRootDeps() != nil {
			return err
		}

		spaces, err := pm.GetWorkspaces(cwd)

		if err != nil {
			return fmt.Errorf("could not detect workspaces: %w", err)
		}

		// Calculate the global hash
		globalDeps := make(util.Set)

		// Calculate global file and env var dependencies
		if pkg.LegacyTurboConfig != nil && len(pkg.LegacyTurboConfig.GlobalDependencies) > 0 {
			var globs []string
			for _, v := range pkg.LegacyTurboConfig.GlobalDependencies {
				if strings.HasPrefix(v, "$") {
					trimmed := strings.TrimPrefix(v, "$")
					c.GlobalHashableEnvNames = append(c.GlobalHashableEnvNames, trimmed)
					c.GlobalHashableEnvPairs = append(c.GlobalHashableEnvPairs, fmt.Sprintf("%v=%v", trimmed, os.Getenv(trimmed)))
				} else {
					globs = append(globs, v)
				}
			}

			if len(globs) > 0 {
				f := globby.GlobFiles(rootpath, &globs, &[]string{})
				for _, val := range f {
					globalDeps.Add(val)
				}
			}
		}

		// get system env vars for hashing purposes, these include any variable whose name
		// contains "THASH".
		names, pairs := getHashableTurboEnvVarsFromOs()
		c.GlobalHashableEnvNames = append(c.GlobalHashableEnvNames, names...)
		c.GlobalHashableEnvPairs = append(c.GlobalHashableEnvPairs, pairs...)
		// sort them for consistent hashing
		sort.Strings(c.GlobalHashableEnvNames)
		sort.Strings(c.GlobalHashableEnvPairs)
		config.Logger.Debug("global hash env vars", "vars", c.GlobalHashableEnvNames)

		globalDeps.Add(pm.Specfile)
		globalDeps.Add(pm.Lockfile)

		globalFileHashMap, err := fs.GitHashForFiles(globalDeps.UnsafeListOfStrings(), rootpath)
		if err != nil {
			return fmt.Errorf("error hashing files. make sure that git has been initialized %w", err)
		}
		globalHashable := struct {
			globalFileHashMap    map[string]string
			rootExternalDepsHash string
			hashedSortedEnvPairs []string
			globalCacheKey       string
		}{
			globalFileHashMap:    globalFileHashMap,
			rootExternalDepsHash: pkg.ExternalDepsHash,
			hashedSortedEnvPairs: c.GlobalHashableEnvPairs,
			globalCacheKey:       GLOBAL_CACHE_KEY,
		}
		globalHash, err := fs.HashObject(globalHashable)
		if err != nil {
			return fmt.Errorf("error hashing global dependencies %w", err)
		}
		c.GlobalHash = globalHash
		turboConfig := c.RootPackageJSON.LegacyTurboConfig
		if turboConfig == nil {
			turboConfig = &fs.TurboConfigJSON{}
		}
		targets, err := GetTargetsFromArguments(c.Args, turboConfig)
		if err != nil {
			return err
		}
		c.Targets = targets
		// We will parse all package.json's simultaneously. We use a
		// waitgroup because we cannot fully populate the graph (the next step)
		// until all parsing is complete
		parseJSONWaitGroup := new(errgroup.Group)
		justJsons := make([]string, 0, len(spaces))
		for _, space := range spaces {
			justJsons = append(justJsons, path.Join(space, "package.json"))
		}

		ignores := getWorkspaceIgnores()
		f := globby.GlobFiles(rootpath, &justJsons, &ignores)

		for i, val := range f {
			_, val := i, val // https://golang.org/doc/faq#closures_and_goroutines
			parseJSONWaitGroup.Go(func() error {
				return c.parsePackageJSON(rootpath, val)
			})
		}

		if err := parseJSONWaitGroup.Wait(); err != nil {
			return err
		}
		packageDepsHashGroup := new(errgroup.Group)
		populateGraphWaitGroup := new(errgroup.Group)
		for _, pkg := range c.PackageInfos {
			pkg := pkg
			populateGraphWaitGroup.Go(func() error {
				return c.populateTopologicGraphForPackageJson(pkg)
			})
			packageDepsHashGroup.Go(func() error {
				return c.loadPackageDepsHash(pkg)
			})
		}

		if err := populateGraphWaitGroup.Wait(); err != nil {
			return err
		}
		if err := packageDepsHashGroup.Wait(); err != nil {
			return err
		}

		// Only we can get the SCC (i.e. topological order)
		c.SCC = dag.StronglyConnected(&c.TopologicalGraph.Graph)

		packageJSONs := make(map[string]*fs.PackageJSON, len(c.PackageInfos)+1)
		for key, info := range c.PackageInfos {
			if name, ok := key.(string); ok {
				packageJSONs[name] = info
			}
		}
		packageJSONs[util.RootPkgName] = c.RootPackageJSON
		c.WorkspaceInfos = workspace.Catalog{PackageJSONs: packageJSONs}

		return nil
	}
}

func (c *Context) loadPackageDepsHash(pkg *fs.PackageJSON) error {
	pkg.Mu.Lock()
	defer pkg.Mu.Unlock()
	pkgDir := pkg.Dir.ToString()
	hashObject, pkgDepsErr := fs.GetPackageDeps(&fs.PackageDepsOptions{
		PackagePath: pkgDir,
	})
	if pkgDepsErr != nil {
		hashObject = make(map[string]string)
		// Instead of implementing all gitignore properly, we hack it. We only respect .gitignore in the root and in
		// the directory of a package.
		ignore, err := safeCompileIgnoreFile(".gitignore")
		if err != nil {
			return err
		}

		ignorePkg, err := safeCompileIgnoreFile(filepath.Join(pkgDir, ".gitignore"))
		if err != nil {
			return err
		}

		fs.Walk(pkgDir, func(name string, isDir bool) error {
			rootMatch := ignore.MatchesPath(name)
			otherMatch := ignorePkg.MatchesPath(name)
			if !rootMatch && !otherMatch {
				if !isDir {
					hash, err := fs.GitLikeHashFile(name)
					if err != nil {
						return fmt.Errorf("could not hash file %v. \n%w", name, err)
					}
					hashObject[strings.TrimPrefix(name, pkgDir+"/")] = hash
				}
			}
			return nil
		})

		// ignorefile rules matched files
	}
	hashOfFiles, otherErr := fs.HashObject(hashObject)
	if otherErr != nil {
		return otherErr
	}
	pkg.FilesHash = hashOfFiles
	return nil
}

// ResolveWorkspaceRootDeps computes the root package's external dependency
// set and, when a lockfile was loaded, its external deps hash.
func (c *Context) ResolveWorkspaceRootDeps() error {
	pkg := c.RootPackageJSON
	pkg.UnresolvedExternalDeps = make(map[string]string)
	for dep, version := range pkg.Dependencies {
		pkg.UnresolvedExternalDeps[dep] = version
	}
	for dep, version := range pkg.DevDependencies {
		pkg.UnresolvedExternalDeps[dep] = version
	}
	for dep, version := range pkg.OptionalDependencies {
		pkg.UnresolvedExternalDeps[dep] = version
	}
	for dep, version := range pkg.PeerDependencies {
		pkg.UnresolvedExternalDeps[dep] = version
	}

	if lockfile.IsNil(c.Lockfile) {
		pkg.ExternalDeps = []string{}
		pkg.ExternalDepsHash = ""
		return nil
	}

	depSet := make(util.Set)
	workspacePath := turbopath.AnchoredUnixPath(".")
	for dep, version := range pkg.UnresolvedExternalDeps {
		if resolved, err := c.Lockfile.ResolvePackage(workspacePath, dep, version); err == nil && resolved.Found {
			depSet.Add(fmt.Sprintf("%v@%v", dep, resolved.Version))
		}
	}
	pkg.ExternalDeps = depSet.UnsafeListOfStrings()
	sort.Strings(pkg.ExternalDeps)
	hashOfExternalDeps, err := fs.HashObject(pkg.ExternalDeps)
	if err != nil {
		return err
	}
	pkg.ExternalDepsHash = hashOfExternalDeps

	return nil
}

// ChangedPackages returns the names of packages whose resolved external
// dependencies differ between the context's current lockfile and prevLockfile.
// A package with no resolvable difference is left out, even if its
// unresolved (package.json) version ranges are identical, since only a
// resolution change can actually affect what gets installed for a task.
func (c *Context) ChangedPackages(prevLockfile lockfile.Lockfile) ([]string, error) {
	changed := make(util.Set)
	for key, pkg := range c.PackageInfos {
		name, ok := key.(string)
		if !ok {
			continue
		}
		workspacePath := turbopath.AnchoredUnixPath(pkg.Dir)
		for dep, version := range pkg.UnresolvedExternalDeps {
			curResolved, curErr := c.Lockfile.ResolvePackage(workspacePath, dep, version)
			prevResolved, prevErr := prevLockfile.ResolvePackage(workspacePath, dep, version)
			if curErr != nil || prevErr != nil {
				continue
			}
			if curResolved.Found != prevResolved.Found || curResolved.Version != prevResolved.Version {
				changed.Add(name)
				break
			}
		}
	}
	result := changed.UnsafeListOfStrings()
	sort.Strings(result)
	return result, nil
}

// GetTargetsFromArguments returns a list of targets from the arguments and Turbo config.
// Return targets are always unique sorted alphabetically.
func GetTargetsFromArguments(arguments []string, configJson *fs.TurboConfigJSON) ([]string, error) {
	targets := make(util.Set)
	for _, arg := range arguments {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			targets.Add(arg)
			found := false
			for task := range configJson.Pipeline {
				if task == arg {
					found = true
				}
			}
			if !found {
				return nil, fmt.Errorf("task `%v` not found in turbo pipeline in package.json. Are you sure you added it?", arg)
			}
		}
	}
	stringTargets := targets.UnsafeListOfStrings()
	sort.Strings(stringTargets)
	return stringTargets, nil
}

func (c *Context) populateTopologicGraphForPackageJson(pkg *fs.PackageJSON) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	internalDepsSet := make(dag.Set)
	depSet := make(dag.Set)
	pkg.UnresolvedExternalDeps = make(map[string]string)
	for dep := range pkg.Dependencies {
		depSet.Add(dep)
	}

	for dep := range pkg.DevDependencies {
		depSet.Add(dep)
	}

	for dep := range pkg.OptionalDependencies {
		depSet.Add(dep)
	}

	for dep := range pkg.PeerDependencies {
		depSet.Add(dep)
	}

	// split out internal vs. external deps
	for _, dependencyName := range depSet.List() {
		if item, ok := c.PackageInfos[dependencyName]; ok {
			internalDepsSet.Add(item.Name)
			c.TopologicalGraph.Connect(dag.BasicEdge(pkg.Name, dependencyName))
		}
	}

	externalUnresolvedDepsSet := depSet.Difference(internalDepsSet)
	for _, name := range externalUnresolvedDepsSet.List() {
		name := name.(string)
		if item, ok := pkg.Dependencies[name]; ok {
			pkg.UnresolvedExternalDeps[name] = item
		}

		if item, ok := pkg.DevDependencies[name]; ok {
			pkg.UnresolvedExternalDeps[name] = item
		}

		if item, ok := pkg.OptionalDependencies[name]; ok {
			pkg.UnresolvedExternalDeps[name] = item
		}
	}

	// when there are no internal dependencies, we need to still add these leafs to the graph
	if internalDepsSet.Len() == 0 {
		c.TopologicalGraph.Connect(dag.BasicEdge(pkg.Name, core.ROOT_NODE_NAME))
	}

	externalDepSet := mapset.NewSet()
	if !lockfile.IsNil(c.Lockfile) {
		workspacePath := turbopath.AnchoredUnixPath(pkg.Dir)
		for dep, version := range pkg.UnresolvedExternalDeps {
			if resolved, err := c.Lockfile.ResolvePackage(workspacePath, dep, version); err == nil && resolved.Found {
				externalDepSet.Add(fmt.Sprintf("%v@%v", dep, resolved.Version))
			}
		}
	}

	pkg.ExternalDeps = make([]string, 0, externalDepSet.Cardinality())
	for _, v := range externalDepSet.ToSlice() {
		pkg.ExternalDeps = append(pkg.ExternalDeps, fmt.Sprintf("%v", v))
	}
	pkg.InternalDeps = make([]string, 0, internalDepsSet.Len())
	for _, v := range internalDepsSet.List() {
		pkg.InternalDeps = append(pkg.InternalDeps, fmt.Sprintf("%v", v))
	}
	sort.Strings(pkg.InternalDeps)
	sort.Strings(pkg.ExternalDeps)
	hashOfExternalDeps, err := fs.HashObject(pkg.ExternalDeps)
	if err != nil {
		return err
	}
	pkg.ExternalDepsHash = hashOfExternalDeps
	return nil
}

func (c *Context) parsePackageJSON(rootpath string, buildFilePath string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if fs.FileExists(buildFilePath) {
		absBuildFilePath, err := fs.CheckedToAbsoluteSystemPath(buildFilePath)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", buildFilePath, err)
		}
		pkg, err := fs.ReadPackageJSON(absBuildFilePath)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", buildFilePath, err)
		}

		relBuildFilePath, err := filepath.Rel(rootpath, buildFilePath)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", buildFilePath, err)
		}

		c.TopologicalGraph.Add(pkg.Name)
		pkg.PackageJSONPath = turbopath.AnchoredSystemPathFromUpstream(relBuildFilePath)
		pkg.Dir = turbopath.AnchoredSystemPathFromUpstream(filepath.Dir(relBuildFilePath))
		c.PackageInfos[pkg.Name] = pkg
		c.PackageNames = append(c.PackageNames, pkg.Name)
	}
	return nil
}

func safeCompileIgnoreFile(filepath string) (*gitignore.GitIgnore, error) {
	if fs.FileExists(filepath) {
		return gitignore.CompileIgnoreFile(filepath)
	}
	// no op
	return gitignore.CompileIgnoreLines([]string{}...), nil
}

func getWorkspaceIgnores() []string {
	return []string{
		"**/node_modules/**/*",
		"**/bower_components/**/*",
		"**/test/**/*",
		"**/tests/**/*",
	}
}

// getHashableTurboEnvVarsFromOs returns a list of environment variables names and
// that are safe to include in the global hash
func getHashableTurboEnvVarsFromOs() ([]string, []string) {
	var justNames []string
	var pairs []string
	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if strings.Contains(kv[0], "THASH") {
			justNames = append(justNames, kv[0])
			pairs = append(pairs, e)
		}
	}

	return justNames, pairs
}
