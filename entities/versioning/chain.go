//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package versioning

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/weaviate/gridmirror/entities/document"
)

var (
	// ErrInvalidChain is a configuration error, it is only returned while
	// building a chain or when asking for a patch the chain does not have.
	ErrInvalidChain = errors.New("invalid patch chain")

	// ErrUnknownVersion means a document was written by a version of the
	// record type this process does not know about.
	ErrUnknownVersion = errors.New("unknown document version")

	ErrIllegalArgument = errors.New("illegal argument")
)

// Chain is the ordered list of patches of one record type. It is immutable
// once built and safe for concurrent use.
//
// Example with patches for version 1 and 2:
//
//	oldest known version:  1
//	current version:       3
//	v1 document: patch(1) -> patch(2) -> v3
//	v2 document: patch(2) -> v3
//	v3 document: already current
type Chain struct {
	patches []Patch
	oldest  int
	current int
}

// NewChain sorts patches by version and checks that the versions are
// contiguous and unique. An empty chain means the type is at version 1.
func NewChain(patches ...Patch) (*Chain, error) {
	sorted := make([]Patch, len(patches))
	copy(sorted, patches)
	for i, p := range sorted {
		if p == nil {
			return nil, errors.Wrapf(ErrInvalidChain, "patch %d is nil", i)
		}
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].PatchedVersion() < sorted[b].PatchedVersion()
	})

	if len(sorted) == 0 {
		return &Chain{oldest: document.DefaultVersion, current: document.DefaultVersion}, nil
	}

	first := sorted[0].PatchedVersion()
	if first < document.DefaultVersion {
		return nil, errors.Wrapf(ErrInvalidChain, "first patched version %d is below %d",
			first, document.DefaultVersion)
	}

	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1].PatchedVersion(), sorted[i].PatchedVersion()
		if next == prev {
			return nil, errors.Wrapf(ErrInvalidChain, "duplicate patch for version %d", next)
		}
		if next != prev+1 {
			return nil, errors.Wrapf(ErrInvalidChain, "gap between version %d and %d", prev, next)
		}
	}

	return &Chain{
		patches: sorted,
		oldest:  first,
		current: sorted[len(sorted)-1].PatchedVersion() + 1,
	}, nil
}

// MustChain is NewChain for statically known patch lists.
func MustChain(patches ...Patch) *Chain {
	c, err := NewChain(patches...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Chain) CurrentVersion() int {
	return c.current
}

func (c *Chain) OldestKnownVersion() int {
	return c.oldest
}

func (c *Chain) Len() int {
	return len(c.patches)
}

// PatchFor returns the patch upgrading from version.
func (c *Chain) PatchFor(version int) (Patch, error) {
	idx := version - c.oldest
	if idx < 0 || idx >= len(c.patches) {
		return nil, errors.Wrapf(ErrInvalidChain, "no patch for version %d", version)
	}
	return c.patches[idx], nil
}

// NeedsPatching is true for every document that is not stamped with the
// current version, including the ones Patch will reject.
func (c *Chain) NeedsPatching(doc *document.Document) bool {
	return doc.Version() != c.current
}

// Patch upgrades doc to the current version. doc itself is left untouched.
func (c *Chain) Patch(doc *document.Document) (*document.Document, error) {
	if err := c.checkPatchable(doc); err != nil {
		return nil, err
	}

	out := doc.Clone()
	for out.Version() != c.current {
		next, err := c.step(out)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// PatchToNextVersion applies exactly one patch. doc itself is left untouched.
func (c *Chain) PatchToNextVersion(doc *document.Document) (*document.Document, error) {
	if err := c.checkPatchable(doc); err != nil {
		return nil, err
	}
	return c.step(doc.Clone())
}

func (c *Chain) checkPatchable(doc *document.Document) error {
	v := doc.Version()
	if v < c.oldest || v > c.current {
		return errors.Wrapf(ErrUnknownVersion, "%s: known versions are %d to %d",
			doc.Describe(), c.oldest, c.current)
	}
	if v == c.current {
		return errors.Wrapf(ErrIllegalArgument, "%s is already at the current version", doc.Describe())
	}
	return nil
}

// step applies the patch for doc's version to doc, which it may modify.
func (c *Chain) step(doc *document.Document) (*document.Document, error) {
	from := doc.Version()
	p, err := c.PatchFor(from)
	if err != nil {
		return nil, err
	}

	out, err := p.Apply(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "apply patch %d to %s", from, doc.Describe())
	}
	if out == nil {
		return nil, errors.Errorf("patch %d returned no document for %s", from, doc.Describe())
	}

	out.SetVersion(from + 1)
	return out, nil
}
