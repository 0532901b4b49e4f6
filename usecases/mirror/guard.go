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

package mirror

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// reloadGuard remembers the records reloaded from the store since the last
// tick. The grid reports them back as mutations, writing those would only
// echo the store.
type reloadGuard struct {
	ids *xsync.Map[guardKey, struct{}]
}

type guardKey struct {
	typeName string
	id       string
}

func newReloadGuard() *reloadGuard {
	return &reloadGuard{ids: xsync.NewMap[guardKey, struct{}]()}
}

func (g *reloadGuard) add(typeName, id string) {
	g.ids.Store(guardKey{typeName, id}, struct{}{})
}

func (g *reloadGuard) RecentlyReloaded(typeName, id string) bool {
	_, ok := g.ids.Load(guardKey{typeName, id})
	return ok
}

func (g *reloadGuard) clear() {
	g.ids.Clear()
}

func (g *reloadGuard) size() int {
	return g.ids.Size()
}
