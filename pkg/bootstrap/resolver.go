package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
	"github.com/pipelinekit/pipelinekit/pkg/telemetry"
)

// PrimaryConfigName is the reserved name of the one shared default
// configuration per scope. Everything else is a per-user sandbox.
const PrimaryConfigName = "Primary"

// configEntity is the record-store entity type holding configuration
// records.
const configEntity = "PipelineConfiguration"

// EnvConfigOverride points the resolver at a local configuration folder,
// bypassing the record store entirely.
const EnvConfigOverride = "SGTK_CONFIG_OVERRIDE"

// Candidate is one configuration record under consideration. Candidates
// that carry no usable location are retained (viable=false) so callers
// enumerating raw candidates still see them; only ranking drops them.
type Candidate struct {
	// ID is the record id.
	ID int

	// Name is the configuration code/name field.
	Name string

	// ProjectID is the owning project, 0 for site-level records.
	ProjectID int

	// UserIDs is the sandbox restriction; empty means shared.
	UserIDs []int

	// PluginPatterns is the comma-separated glob pattern field matched
	// against the plugin scope id. Empty marks a classic (non-plugin)
	// record matched purely by project linkage.
	PluginPatterns string

	// Spec is the resolved location specifier, nil when not viable.
	Spec descriptor.Spec

	// Viable reports whether a usable location was resolved.
	Viable bool
}

// isSandbox reports whether the candidate is user-restricted.
func (c Candidate) isSandbox() bool { return len(c.UserIDs) > 0 }

// isPrimary reports whether the candidate is the shared default.
func (c Candidate) isPrimary() bool { return c.Name == PrimaryConfigName && !c.isSandbox() }

// Resolver picks exactly one configuration for a plugin/project scope.
type Resolver struct {
	// PluginID is the plugin scope identifier (e.g. "basic.maya").
	PluginID string

	// ProjectID is the target project, 0 for site scope.
	ProjectID int

	// Factory builds transports for resolved specifiers.
	Factory *descriptor.Factory

	// Store is the record-store client candidates are gathered from.
	Store recordstore.Client

	// Session identifies the connection and current user.
	Session *recordstore.Session

	// Interpreter is the path launcher scripts bind to.
	Interpreter string

	// Logger receives the ranking decisions.
	Logger zerolog.Logger
}

// Resolve selects the configuration for the scope. explicitName restricts
// the search to records with that exact name ("" means all); explicitID
// pins a specific record by id (0 means all); fallback is the
// caller-supplied specifier used when no record matches.
func (r *Resolver) Resolve(ctx context.Context, explicitName string, explicitID int, fallback descriptor.Spec) (Configuration, error) {
	ctx = telemetry.WithResolveContext(ctx, r.PluginID, r.ProjectID)
	cfg, source, err := r.resolveScoped(ctx, explicitName, explicitID, fallback)

	name, uri := "", ""
	if err == nil && cfg != nil {
		if desc := cfg.Descriptor(); desc != nil {
			name = desc.SystemName()
			uri = desc.Spec().URI()
		}
	}
	telemetry.EndResolveContext(ctx, name, uri, source, err)
	return cfg, err
}

func (r *Resolver) resolveScoped(ctx context.Context, explicitName string, explicitID int, fallback descriptor.Spec) (Configuration, string, error) {
	if override := os.Getenv(EnvConfigOverride); override != "" {
		r.Logger.Info().Str("path", override).Msg("Configuration override active, bypassing record store")
		cfg, err := r.buildConfiguration(ctx, descriptor.Spec{"type": descriptor.TypePath, "path": override}, 0, "")
		return cfg, "override", err
	}

	candidates, err := r.FindCandidates(ctx, explicitName, explicitID)
	if err != nil {
		return nil, "record", err
	}

	winner := r.rank(candidates)
	if winner == nil {
		r.Logger.Debug().Str("plugin_id", r.PluginID).Msg("No configuration record matched, using fallback descriptor")
		cfg, err := r.buildConfiguration(ctx, fallback, 0, "")
		return cfg, "fallback", err
	}
	cfg, err := r.buildConfiguration(ctx, winner.Spec, winner.ID, winner.Name)
	return cfg, "record", err
}

// FindCandidates gathers every configuration record for the scope: records
// owned by the target project or site-level records, restricted to the
// current user or shared. When explicitName is the reserved Primary label,
// only unrestricted records are considered; explicitID pins one record by
// id. Candidates without a usable location are returned with Viable=false,
// never silently dropped here.
func (r *Resolver) FindCandidates(ctx context.Context, explicitName string, explicitID int) ([]Candidate, error) {
	filters := []recordstore.Filter{}
	if explicitName != "" {
		filters = append(filters, recordstore.Filter{Field: "code", Op: "is", Value: explicitName})
	}
	if explicitID != 0 {
		filters = append(filters, recordstore.Filter{Field: "id", Op: "is", Value: explicitID})
	}

	entities, err := r.Store.Find(ctx,
		configEntity,
		filters,
		[]string{"id", "code", "project_id", "user_ids", "plugin_ids", "linux_path", "mac_path", "windows_path", "descriptor", "sg_descriptor"},
		[]recordstore.SortKey{{Field: "id", Direction: "asc"}},
	)
	if err != nil {
		return nil, descriptor.NewIOError("failed to query configuration records", err)
	}

	var candidates []Candidate
	for _, entity := range entities {
		candidate, err := r.toCandidate(ctx, entity)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			continue
		}
		if explicitName == PrimaryConfigName && candidate.isSandbox() {
			continue
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, nil
}

// toCandidate converts a record to a candidate, returning nil when the
// record is out of scope (wrong project, or restricted to another user).
func (r *Resolver) toCandidate(ctx context.Context, entity recordstore.Entity) (*Candidate, error) {
	projectID, _ := entity.Int("project_id")
	if projectID != 0 && projectID != r.ProjectID {
		return nil, nil
	}

	userIDs := intList(entity["user_ids"])
	if len(userIDs) > 0 && !containsInt(userIDs, r.Session.UserID) {
		return nil, nil
	}

	candidate := &Candidate{
		ID:             entity.ID(),
		Name:           entity.Str("code"),
		ProjectID:      projectID,
		UserIDs:        userIDs,
		PluginPatterns: entity.Str("plugin_ids"),
	}

	spec, err := r.resolveLocation(ctx, entity)
	if err != nil {
		return nil, err
	}
	if spec != nil {
		candidate.Spec = spec
		candidate.Viable = true
	}
	return candidate, nil
}

// resolveLocation derives the candidate's location specifier from its
// record fields in fixed priority order: per-OS path fields first, then the
// primary descriptor field, then the legacy descriptor field. A descriptor
// field without a version token is resolved to latest.
func (r *Resolver) resolveLocation(ctx context.Context, entity recordstore.Entity) (descriptor.Spec, error) {
	linuxPath := entity.Str("linux_path")
	macPath := entity.Str("mac_path")
	windowsPath := entity.Str("windows_path")

	if linuxPath != "" || macPath != "" || windowsPath != "" {
		current := map[string]string{
			"linux":   linuxPath,
			"darwin":  macPath,
			"windows": windowsPath,
		}[normalizedOS()]
		if current == "" {
			// Other platforms are populated but this one is not: a
			// configuration error for this platform, surfaced loudly
			// rather than silently dropping the candidate.
			return nil, descriptor.NewResolutionError(
				fmt.Sprintf("configuration record %d defines paths for other platforms but not for %s", entity.ID(), runtime.GOOS), nil)
		}
		return descriptor.Spec{"type": descriptor.TypeInstalledPath, "path": current}, nil
	}

	for _, field := range []string{"descriptor", "sg_descriptor"} {
		uri := entity.Str(field)
		if uri == "" {
			continue
		}
		spec, err := descriptor.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		return r.resolveLatestIfUnversioned(ctx, spec)
	}
	return nil, nil
}

// resolveLatestIfUnversioned pins a specifier without a version token to
// the latest available version.
func (r *Resolver) resolveLatestIfUnversioned(ctx context.Context, spec descriptor.Spec) (descriptor.Spec, error) {
	switch spec.Type() {
	case descriptor.TypePath, descriptor.TypeDev:
		return spec, nil
	}
	if spec["version"] != "" {
		return spec, nil
	}
	withVersion := spec.Clone()
	withVersion["version"] = "v0.0.0" // placeholder so the factory accepts it
	transport, err := r.Factory.New(withVersion)
	if err != nil {
		return nil, err
	}
	latest, err := transport.LatestVersion(ctx, "")
	if err != nil {
		return nil, err
	}
	return latest.Spec(), nil
}

// matchesPlugin applies the scope-matching predicate: the pattern field is
// a comma-separated list of shell globs matched against the plugin scope
// id. A candidate with no patterns is a classic record matched purely by
// its project linkage, which toCandidate has already enforced.
func (r *Resolver) matchesPlugin(candidate Candidate) bool {
	if candidate.PluginPatterns == "" {
		return true
	}
	for _, pattern := range strings.Split(candidate.PluginPatterns, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, err := path.Match(pattern, r.PluginID); err == nil && ok {
			return true
		}
	}
	return false
}

// rank applies the deterministic precedence policy over the viable,
// scope-matching candidates: user sandbox in project > project primary >
// user sandbox at site > site primary. Within a primary partition, more
// than one candidate is a misconfiguration; the lowest id wins and the
// rest are logged as skipped, never raised.
func (r *Resolver) rank(candidates []Candidate) *Candidate {
	var projectSandboxes, projectPrimaries, siteSandboxes, sitePrimaries []Candidate
	for _, candidate := range candidates {
		if !candidate.Viable || !r.matchesPlugin(candidate) {
			continue
		}
		switch {
		case candidate.ProjectID != 0 && candidate.isSandbox():
			projectSandboxes = append(projectSandboxes, candidate)
		case candidate.ProjectID != 0 && candidate.isPrimary():
			projectPrimaries = append(projectPrimaries, candidate)
		case candidate.ProjectID == 0 && candidate.isSandbox():
			siteSandboxes = append(siteSandboxes, candidate)
		case candidate.ProjectID == 0 && candidate.isPrimary():
			sitePrimaries = append(sitePrimaries, candidate)
		}
	}

	if winner := first(projectSandboxes, r.Logger, "project sandbox"); winner != nil {
		return winner
	}
	if winner := first(projectPrimaries, r.Logger, "project primary"); winner != nil {
		return winner
	}
	if winner := first(siteSandboxes, r.Logger, "site sandbox"); winner != nil {
		return winner
	}
	return first(sitePrimaries, r.Logger, "site primary")
}

// first returns the lowest-id candidate of a partition, logging any others
// as skipped.
func first(candidates []Candidate, logger zerolog.Logger, partition string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	for _, skipped := range candidates[1:] {
		logger.Warn().
			Int("skipped_id", skipped.ID).
			Int("selected_id", candidates[0].ID).
			Str("partition", partition).
			Msg("Multiple configuration records in the same partition, skipping the higher-id record")
	}
	return &candidates[0]
}

// buildConfiguration dispatches on the winning specifier type: installed
// paths become read-only wrappers, baked specifiers are located among the
// fallback cache roots, and everything else goes through the standard
// cache-backed flow.
func (r *Resolver) buildConfiguration(ctx context.Context, spec descriptor.Spec, recordID int, name string) (Configuration, error) {
	switch spec.Type() {
	case descriptor.TypeInstalledPath:
		return r.buildInstalled(spec)
	case descriptor.TypeBaked:
		return r.buildBaked(spec)
	default:
		return r.buildCached(ctx, spec, recordID, name)
	}
}

func (r *Resolver) buildInstalled(spec descriptor.Spec) (Configuration, error) {
	root := descriptor.ExpandPath(spec["path"])
	if _, err := os.Stat(root); err != nil {
		return nil, descriptor.NewResolutionError("installed configuration path does not exist: "+root, err)
	}
	pathSpec := descriptor.Spec{"type": descriptor.TypePath, "path": root}
	transport, err := r.Factory.New(pathSpec)
	if err != nil {
		return nil, err
	}
	desc := descriptor.NewDescriptor(descriptor.TypeTagConfig, descriptor.NonCopiable(transport))
	return NewInstalledConfiguration(root, desc), nil
}

// buildBaked searches the fallback cache roots for a prebaked scaffold
// folder named by artifact name and version.
func (r *Resolver) buildBaked(spec descriptor.Spec) (Configuration, error) {
	name := spec["name"]
	version := spec["version"]
	for _, root := range r.Factory.Roots().Fallbacks {
		scaffold := filepath.Join(root, "baked", name, version)
		if _, err := os.Stat(scaffold); err == nil {
			pathSpec := descriptor.Spec{"type": descriptor.TypePath, "path": scaffold}
			transport, err := r.Factory.New(pathSpec)
			if err != nil {
				return nil, err
			}
			desc := descriptor.NewDescriptor(descriptor.TypeTagConfig, transport)
			return NewBakedConfiguration(scaffold, desc), nil
		}
	}
	return nil, descriptor.NewResolutionError(
		fmt.Sprintf("baked configuration %s %s not found in any fallback cache root", name, version), nil)
}

func (r *Resolver) buildCached(ctx context.Context, spec descriptor.Spec, recordID int, name string) (Configuration, error) {
	transport, err := r.Factory.New(spec)
	if err != nil {
		return nil, err
	}
	desc := descriptor.NewDescriptor(descriptor.TypeTagConfig, transport)

	meta := PipelineConfigMetadata{
		ID:               recordID,
		Name:             name,
		ProjectID:        r.ProjectID,
		PluginID:         r.PluginID,
		BundleCacheRoots: r.Factory.Roots().Fallbacks,
		SourceDescriptor: spec.URI(),
	}
	root := r.configRootFor(spec)
	return NewCachedConfiguration(root, desc, r.Factory, r.Store, r.Session, meta, r.Interpreter, recordID, r.Logger), nil
}

// configRootFor computes the managed installation root for a cached
// configuration, keyed by plugin scope, project and the artifact identity.
func (r *Resolver) configRootFor(spec descriptor.Spec) string {
	transport, err := r.Factory.New(spec)
	name := "unnamed"
	if err == nil {
		name = transport.SystemName()
	}
	return filepath.Join(
		r.Factory.Roots().Primary,
		"cfg",
		r.PluginID,
		fmt.Sprintf("p%d", r.ProjectID),
		name,
	)
}

func normalizedOS() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "darwin"
	default:
		return "linux"
	}
}

func intList(value any) []int {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, item := range items {
		switch v := item.(type) {
		case int:
			out = append(out, v)
		case int64:
			out = append(out, int(v))
		case float64:
			out = append(out, int(v))
		}
	}
	return out
}

func containsInt(list []int, target int) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
