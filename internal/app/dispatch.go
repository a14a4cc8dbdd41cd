package app

import "strings"

type specialKind int

const (
	specialNone specialKind = iota
	specialInfoRefs
	specialUploadPack
	specialReceivePack
	specialGitHead
	specialLFSBatch
	specialLFSVerify
	specialResolve
)

// specialMatch is a parsed git/download URL.
type specialMatch struct {
	kind      specialKind
	plural    string
	namespace string
	name      string
	revision  string
	path      string
}

// matchSpecial parses the URL shapes the static route tree cannot hold:
//
//	[/api]/{plural}/{ns}/{name}.git/info/refs
//	[/api]/{plural}/{ns}/{name}.git/git-upload-pack | git-receive-pack | HEAD
//	[/api]/{plural}/{ns}/{name}.git/info/lfs/objects/batch
//	[/api]/{plural}/{ns}/{name}.git/info/lfs/verify (legacy objects/verify too)
//	/{plural}/{ns}/{name}/resolve/{revision}/{path}
//	/{ns}/{name}.git/... and /{ns}/{name}/resolve/... default to models.
func matchSpecial(urlPath string) (*specialMatch, bool) {
	p := strings.TrimPrefix(urlPath, "/api")
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, false
	}
	segs := strings.Split(p, "/")

	plural := "models"
	if isPlural(segs[0]) {
		plural = segs[0]
		segs = segs[1:]
	}
	if len(segs) < 2 {
		return nil, false
	}

	m := &specialMatch{plural: plural, namespace: segs[0]}

	if name, ok := strings.CutSuffix(segs[1], ".git"); ok {
		m.name = name
		rest := strings.Join(segs[2:], "/")
		switch rest {
		case "info/refs":
			m.kind = specialInfoRefs
		case "git-upload-pack":
			m.kind = specialUploadPack
		case "git-receive-pack":
			m.kind = specialReceivePack
		case "HEAD":
			m.kind = specialGitHead
		case "info/lfs/objects/batch":
			m.kind = specialLFSBatch
		case "info/lfs/verify", "info/lfs/objects/verify":
			m.kind = specialLFSVerify
		default:
			return nil, false
		}
		if m.name == "" || m.namespace == "" {
			return nil, false
		}
		return m, true
	}

	// {ns}/{name}/resolve/{revision}/{path...}
	if len(segs) < 5 || segs[2] != "resolve" {
		return nil, false
	}
	m.kind = specialResolve
	m.name = segs[1]
	m.revision = segs[3]
	m.path = strings.Join(segs[4:], "/")
	if m.name == "" || m.revision == "" || m.path == "" {
		return nil, false
	}
	return m, true
}
