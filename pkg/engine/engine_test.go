package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/browser/browsertest"
	"github.com/guillefidelio/reviewpilot/pkg/engine/locator"
	"github.com/guillefidelio/reviewpilot/pkg/engine/observer"
	"github.com/guillefidelio/reviewpilot/pkg/engine/tracker"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
)

func TestParseChangeEvent(t *testing.T) {
	tests := []struct {
		name string
		args []interface{}
		want observer.ChangeEvent
	}{
		{
			name: "node addition with marker",
			args: []interface{}{map[string]interface{}{
				"kind":   string(observer.NodeAdded),
				"marker": "review-card",
			}},
			want: observer.ChangeEvent{Kind: observer.NodeAdded, Marker: "review-card"},
		},
		{
			name: "attribute change",
			args: []interface{}{map[string]interface{}{
				"kind": string(observer.AttributeChanged),
				"attr": "aria-label",
			}},
			want: observer.ChangeEvent{Kind: observer.AttributeChanged, Attr: "aria-label"},
		},
		{
			name: "url change",
			args: []interface{}{map[string]interface{}{
				"kind": string(observer.URLChanged),
			}},
			want: observer.ChangeEvent{Kind: observer.URLChanged},
		},
		{
			name: "no payload degrades to url change",
			args: nil,
			want: observer.ChangeEvent{Kind: observer.URLChanged},
		},
		{
			name: "non-map payload degrades to url change",
			args: []interface{}{"garbage"},
			want: observer.ChangeEvent{Kind: observer.URLChanged},
		},
		{
			name: "missing kind degrades to url change",
			args: []interface{}{map[string]interface{}{"marker": "review-card"}},
			want: observer.ChangeEvent{Kind: observer.URLChanged, Marker: "review-card"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseChangeEvent(tt.args))
		})
	}
}

func controlSelector(key string) string {
	return fmt.Sprintf(`[%s=%q]`, tracker.ControlKeyAttr, key)
}

func TestInjectControlAppend(t *testing.T) {
	node := browsertest.NewFakeElement("button")
	container := browsertest.NewFakeElement("div")
	container.Results[controlSelector("r-1")] = []browser.Element{node}

	input := locator.InputHandle{
		Element: browsertest.NewFakeElement("textarea"),
		Key:     "r-1",
		Kind:    locator.KindTextEntry,
	}
	point := &locator.InsertionPoint{Container: container, Position: locator.PositionAppend}

	got, err := injectControl(input, point)
	require.NoError(t, err)
	assert.Same(t, browser.Element(node), got)
	require.Len(t, container.EvalCalls, 1, "injection script runs on the container")
	assert.Contains(t, container.EvalCalls[0], "createElement")
}

func TestInjectControlAfterReferenceEvaluatesOnReference(t *testing.T) {
	node := browsertest.NewFakeElement("button")
	container := browsertest.NewFakeElement("div")
	container.Results[controlSelector("r-2")] = []browser.Element{node}
	reference := browsertest.NewFakeElement("button")

	input := locator.InputHandle{
		Element: browsertest.NewFakeElement("textarea"),
		Key:     "r-2",
		Kind:    locator.KindTextEntry,
	}
	point := &locator.InsertionPoint{
		Container: container,
		Reference: reference,
		Position:  locator.PositionAfterReference,
	}

	got, err := injectControl(input, point)
	require.NoError(t, err)
	assert.Same(t, browser.Element(node), got)
	assert.Len(t, reference.EvalCalls, 1, "after-reference inserts run on the reference node")
	assert.Empty(t, container.EvalCalls)
}

func TestInjectControlFallsBackToParentScope(t *testing.T) {
	node := browsertest.NewFakeElement("button")
	parent := browsertest.NewFakeElement("div")
	parent.Results[controlSelector("r-3")] = []browser.Element{node}

	// The container does not see the node; the reference's parent does.
	container := browsertest.NewFakeElement("div")
	reference := browsertest.NewFakeElement("button")
	reference.ParentEl = parent

	input := locator.InputHandle{
		Element: browsertest.NewFakeElement("textarea"),
		Key:     "r-3",
		Kind:    locator.KindTextEntry,
	}
	point := &locator.InsertionPoint{
		Container: container,
		Reference: reference,
		Position:  locator.PositionAfterReference,
	}

	got, err := injectControl(input, point)
	require.NoError(t, err)
	assert.Same(t, browser.Element(node), got)
}

func TestInjectControlNodeNotFound(t *testing.T) {
	container := browsertest.NewFakeElement("div")

	input := locator.InputHandle{
		Element: browsertest.NewFakeElement("textarea"),
		Key:     "r-4",
		Kind:    locator.KindTextEntry,
	}
	point := &locator.InsertionPoint{Container: container, Position: locator.PositionFirstChild}

	_, err := injectControl(input, point)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNavigationTeardownAllowsReinjection(t *testing.T) {
	log, err := logging.NewLogger("engine-test")
	require.NoError(t, err)
	defer log.Close()

	e := New(nil, Options{}, log)
	doc := browsertest.NewFakeDocument("https://business.google.com/reviews/reply")
	rt := e.buildRuntime(doc)
	defer rt.coordinator.Stop()

	node := browsertest.NewFakeElement("button").WithAttr(tracker.ControlKeyAttr, "r-1")
	input := browsertest.NewFakeElement("textarea").WithAttr("data-review-id", "r-1")
	control := tracker.NewControl("r-1", node, input, locator.KindTextEntry)
	require.NoError(t, rt.registry.Register(control))

	e.onNavigated(rt, "https://business.google.com/reviews/reply", "https://business.google.com/reviews/reply?page=2")

	// The swap must not strand an untracked button: the node is gone from
	// the DOM, the key answers to nothing, and the surviving input is free
	// for a fresh control on the next scan.
	assert.True(t, node.Removed, "content swap removes stranded control nodes")
	assert.Equal(t, 0, rt.registry.Len())
	_, tracked := rt.registry.Get("r-1")
	assert.False(t, tracked)
	assert.False(t, rt.registry.HasControlFor(input, "r-1"))

	fresh := tracker.NewControl("r-1", browsertest.NewFakeElement("button"), input, locator.KindTextEntry)
	require.NoError(t, rt.registry.Register(fresh))
}

func TestEscapeKeyStripsQuoting(t *testing.T) {
	assert.Equal(t, "plain-key", escapeKey("plain-key"))
	assert.Equal(t, "ab", escapeKey(`a"b`))
	assert.Equal(t, "ab", escapeKey(`a\b`))
}
