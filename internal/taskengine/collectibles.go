// Collectibles let a task emit tagged values that propagate up the call
// graph to every (transitive) reader. peek observes the current set
// without consuming it; take consumes it, severing propagation of what it
// took past the consuming task — a later reader of the consuming task no
// longer sees those values, though a future recomputation that emits again
// re-establishes the edge and resumes propagation.
//
// Collectibles piggyback on the same Tree the dirty-count aggregation
// uses: each collectible type is just another key inside the per-node
// summary, so the call-graph edges only need to be mirrored into the tree
// once, not once per collectible type.
package taskengine

// collectibleItem is one emitted value under one type/key pair, with a
// count so the same (type, key) emitted by several descendants still
// aggregates rather than overwriting.
type collectibleItem struct {
	value interface{}
	count int
}

// collectibleSummary maps collectible-type name to emitted key to item.
// Keys must be supplied by the caller (Emit), since collectible values
// themselves need not be comparable.
type collectibleSummary map[string]map[string]collectibleItem

// collectibleContext merges/unmerges by rebuilding fresh maps on every
// call rather than mutating existing ones in place. aggregation.Tree's
// Query falls back, for a Leaf node, to `acc := n.value` followed by
// repeated in-place Merge calls on acc — since collectibleSummary is a map
// (reference type), an in-place Merge would corrupt n.value's own map on
// every read. Always producing a brand new map avoids that aliasing.
type collectibleContext struct{}

func (collectibleContext) Zero() collectibleSummary { return collectibleSummary{} }

func (collectibleContext) Merge(dst *collectibleSummary, delta collectibleSummary) {
	applyDelta(dst, delta, 1)
}

func (collectibleContext) Unmerge(dst *collectibleSummary, delta collectibleSummary) {
	applyDelta(dst, delta, -1)
}

func applyDelta(dst *collectibleSummary, delta collectibleSummary, sign int) {
	out := make(collectibleSummary, len(*dst))
	for typ, items := range *dst {
		inner := make(map[string]collectibleItem, len(items))
		for k, v := range items {
			inner[k] = v
		}
		out[typ] = inner
	}
	for typ, items := range delta {
		inner, ok := out[typ]
		if !ok {
			inner = make(map[string]collectibleItem, len(items))
			out[typ] = inner
		}
		for k, v := range items {
			e := inner[k]
			e.value = v.value
			e.count += sign * v.count
			if e.count <= 0 {
				delete(inner, k)
			} else {
				inner[k] = e
			}
		}
		if len(inner) == 0 {
			delete(out, typ)
		}
	}
	*dst = out
}

// Emit records a collectible under typ/key on behalf of the running task.
// Emitting the same (typ, key) again within the same run overwrites value
// but not count; count tracks distinct emitters, not repeat emits from one
// task in one run.
func (rc *RunContext) Emit(typ, key string, value interface{}) {
	rc.mu.Lock()
	k := [2]string{typ, key}
	item, existed := rc.emits[k]
	item.value = value
	if !existed {
		item.count = 1
	}
	rc.emits[k] = item
	rc.mu.Unlock()
	rc.engine.emit(rc.taskID, typ, key, value, !existed)
}

func (e *Engine) emit(id, typ, key string, value interface{}, isNew bool) {
	count := 0
	if isNew {
		count = 1
	}
	// count 0 still replaces the stored value (see Merge) without changing
	// how many times this (typ, key) has been counted as emitted.
	e.collectibles.UpdateValue(id, collectibleSummary{typ: {key: {value: value, count: count}}})
}

func (e *Engine) retractEmit(id, typ, key string) {
	e.collectibles.UpdateValue(id, collectibleSummary{typ: {key: {count: -1}}})
}

// Peek returns every value currently emitted under typ within id's
// transitive dependency subtree (including id's own emits), without
// consuming them.
func (e *Engine) Peek(id, typ string) []interface{} {
	summary := e.collectibles.Query(id)
	items, ok := summary[typ]
	if !ok {
		return nil
	}
	out := make([]interface{}, 0, len(items))
	for _, it := range items {
		for i := 0; i < it.count; i++ {
			out = append(out, it.value)
		}
	}
	return out
}

// Take returns the same values Peek would and severs id's contribution of
// typ from propagating to id's current readers: it detaches id from every
// task currently depending on it in the collectibles tree. A reader that
// later recomputes and reads id again restores the edge and resumes
// seeing whatever id emits from then on.
func (e *Engine) Take(id, typ string) []interface{} {
	values := e.Peek(id, typ)
	if len(values) == 0 {
		return values
	}

	e.mu.Lock()
	nid, ok := e.nodeIDs[id]
	e.mu.Unlock()
	if !ok {
		return values
	}
	for _, dependent := range e.graph.NeighborsIn(nid) {
		label := e.graph.Label(dependent)
		e.collectibles.RemoveEdge(label, id)
	}
	return values
}
