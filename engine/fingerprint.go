package engine

import (
	"github.com/evalgo/forgecache/cache"
	"github.com/evalgo/forgecache/fingerprint"
	"github.com/evalgo/forgecache/registry"
)

// fingerprintKey computes a key's stable fingerprint and cache path
// per §4.4. Configuration filtering uses the key's own declared
// selectors against ctx.ConfigurationInputs; this implementation scopes
// the "allowed set" to a key's own selectors rather than additionally
// folding in descendant key types' selectors, since nothing else in
// this engine needs a standalone global key-type metadata registry
// (AggregatedVersion already captures the version closure per key
// author).
func fingerprintKey(key Key, ctx *Context) (fp string, path string, err error) {
	friendly := fingerprint.FriendlyEncode(key.Fields())
	canonical, err := fingerprint.CanonicalJSON(key)
	if err != nil {
		return "", "", err
	}

	selected := fingerprint.Select(key.ConfigurationSelectors(), ctx.ConfigurationInputs)

	resourceVersions := make(map[string]int)
	if ctx.Resources != nil {
		for _, rk := range key.ResourceEntitlements() {
			r, ok := ctx.Resources.Resource(rk)
			if ok && r.Lifetime == registry.Versioned && r.Version != nil {
				resourceVersions[rk.External] = *r.Version
			}
		}
	}

	path, err = fingerprint.BuildCachePath(fingerprint.PathParams{
		Name:              key.Name(),
		AggregatedVersion: key.AggregatedVersion(),
		Hint:              key.Hint(),
		Friendly:          friendly,
		Canonical:         canonical,
		ConfigSelected:    selected,
		ResourceVersions:  resourceVersions,
	})
	if err != nil {
		return "", "", err
	}
	if ctx.RequestOnlyCaching && ctx.BuildID != "" {
		path = ctx.BuildID + "/" + path
	}
	return fingerprint.Stable(path), path, nil
}

func cacheProps(key Key, path string) cache.Props {
	return cache.Props{Volatile: key.Volatile(), CachePath: path}
}
