// Package deps manages the external module requirements accumulated by a
// session and emitted into every synthesized go.mod.
package deps

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/repltools/goeval/pkg/state"
)

// Resolver pins floating dependency requests ("latest" or empty version) to
// a concrete release by listing the remote repository's tags.
type Resolver struct{}

// NewResolver returns a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns a pinned copy of spec. Already-pinned specs pass through
// unchanged.
func (r *Resolver) Resolve(ctx context.Context, spec state.DependencySpec) (state.DependencySpec, error) {
	if spec.Path == "" {
		return spec, fmt.Errorf("deps: missing module path")
	}
	if spec.Version != "" && spec.Version != "latest" {
		return spec, nil
	}

	url := repositoryURL(spec.Path)
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return spec, fmt.Errorf("deps: list %s: %w", url, err)
	}

	var best version
	found := false
	for _, ref := range refs {
		name := ref.Name()
		if !name.IsTag() {
			continue
		}
		v, ok := parseVersion(name.Short())
		if !ok || v.prerelease {
			continue
		}
		if !found || best.less(v) {
			best = v
			found = true
		}
	}
	if !found {
		return spec, fmt.Errorf("deps: no release tags at %s", url)
	}
	spec.Version = best.String()
	return spec, nil
}

// repositoryURL maps a module path to its hosting repository. Major-version
// suffixes are shed; well-known hosts use their first three path segments.
func repositoryURL(modulePath string) string {
	path := modulePath
	if idx := strings.LastIndex(path, "/v"); idx > 0 {
		if _, err := strconv.Atoi(path[idx+2:]); err == nil {
			path = path[:idx]
		}
	}
	segments := strings.Split(path, "/")
	switch segments[0] {
	case "github.com", "gitlab.com", "bitbucket.org":
		if len(segments) > 3 {
			path = strings.Join(segments[:3], "/")
		}
	}
	return "https://" + path
}

// version is a parsed semver release tag.
type version struct {
	major, minor, patch int
	prerelease          bool
}

func (v version) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
}

func (v version) less(o version) bool {
	if v.major != o.major {
		return v.major < o.major
	}
	if v.minor != o.minor {
		return v.minor < o.minor
	}
	return v.patch < o.patch
}

func parseVersion(tag string) (version, bool) {
	if !strings.HasPrefix(tag, "v") {
		return version{}, false
	}
	body := tag[1:]
	pre := false
	if idx := strings.IndexAny(body, "-+"); idx >= 0 {
		pre = body[idx] == '-'
		body = body[:idx]
	}
	parts := strings.Split(body, ".")
	if len(parts) != 3 {
		return version{}, false
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return version{}, false
		}
		nums[i] = n
	}
	return version{major: nums[0], minor: nums[1], patch: nums[2], prerelease: pre}, true
}

// SortSpecs orders dependency specs by module path for stable rendering.
func SortSpecs(specs []state.DependencySpec) {
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Path < specs[j].Path
	})
}
