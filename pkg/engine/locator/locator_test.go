package locator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/browser/browsertest"
)

func newLocator() *Locator {
	return New([]string{"reply", "respond", "respuesta"})
}

func TestIsEligiblePlatformAttribute(t *testing.T) {
	el := browsertest.NewFakeElement("textarea").WithAttr(PlatformInputAttr, "r-123")
	assert.True(t, newLocator().IsEligible(el))
}

func TestIsEligibleReplyKeyword(t *testing.T) {
	l := newLocator()

	byPlaceholder := browsertest.NewFakeElement("textarea").WithAttr("placeholder", "Write your reply...")
	assert.True(t, l.IsEligible(byPlaceholder))

	byAriaLabel := browsertest.NewFakeElement("div").
		WithAttr("contenteditable", "true").
		WithAttr("aria-label", "Tu respuesta")
	assert.True(t, l.IsEligible(byAriaLabel))
}

func TestIsEligibleInsideForm(t *testing.T) {
	el := browsertest.NewFakeElement("textarea")
	el.ClosestMap["form"] = browsertest.NewFakeElement("form")
	assert.True(t, newLocator().IsEligible(el))
}

func TestIsEligibleRejectsNonTextInputs(t *testing.T) {
	l := newLocator()

	checkbox := browsertest.NewFakeElement("input").WithAttr("type", "checkbox")
	checkbox.ClosestMap["form"] = browsertest.NewFakeElement("form")
	assert.False(t, l.IsEligible(checkbox))

	div := browsertest.NewFakeElement("div")
	div.ClosestMap["form"] = browsertest.NewFakeElement("form")
	assert.False(t, l.IsEligible(div))
}

func TestIsEligibleRejectsUnanchoredInput(t *testing.T) {
	// Text input with no platform attribute, no keyword, no form.
	el := browsertest.NewFakeElement("textarea").WithAttr("placeholder", "Search")
	assert.False(t, newLocator().IsEligible(el))
}

func TestFindEligibleInputsUsesPlatformKey(t *testing.T) {
	doc := browsertest.NewFakeDocument("https://example.com/reviews/reply")
	input := browsertest.NewFakeElement("textarea").WithAttr(PlatformInputAttr, "r-42")
	doc.Results[SpecificInputSelector] = []browser.Element{input}

	handles, err := newLocator().FindEligibleInputs(doc)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "r-42", handles[0].Key)
	assert.Equal(t, KindTextEntry, handles[0].Kind)
}

func TestFindEligibleInputsDeduplicatesAcrossSelectors(t *testing.T) {
	doc := browsertest.NewFakeDocument("https://example.com/reviews/reply")
	input := browsertest.NewFakeElement("textarea").WithAttr(PlatformInputAttr, "r-42")

	// The same element matches both the specific and the generic selector.
	doc.Results[SpecificInputSelector] = []browser.Element{input}
	doc.Results[FallbackInputSelector] = []browser.Element{input}

	handles, err := newLocator().FindEligibleInputs(doc)
	require.NoError(t, err)
	assert.Len(t, handles, 1)
}

func TestSyntheticKeyIsPersistedOnElement(t *testing.T) {
	doc := browsertest.NewFakeDocument("https://example.com/reviews/reply")
	input := browsertest.NewFakeElement("textarea").WithAttr("placeholder", "Reply to this review")
	doc.Results[FallbackInputSelector] = []browser.Element{input}

	l := newLocator()

	first, err := l.FindEligibleInputs(doc)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, strings.HasPrefix(first[0].Key, "gen-"))
	assert.Equal(t, first[0].Key, input.Attrs[SyntheticKeyAttr])

	// A second pass reuses the persisted key instead of minting a new one.
	second, err := l.FindEligibleInputs(doc)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Key, second[0].Key)
}

func TestEditableInputKind(t *testing.T) {
	doc := browsertest.NewFakeDocument("https://example.com/reviews/reply")
	editable := browsertest.NewFakeElement("div").
		WithAttr("contenteditable", "true").
		WithAttr(PlatformInputAttr, "r-9")
	doc.Results[SpecificInputSelector] = []browser.Element{editable}

	handles, err := newLocator().FindEligibleInputs(doc)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, KindEditable, handles[0].Kind)
}

func TestFindInsertionPointPlatformToolbar(t *testing.T) {
	input := browsertest.NewFakeElement("textarea")
	toolbar := browsertest.NewFakeElement("div").WithAttr("role", "toolbar")
	submit := browsertest.NewFakeElement("button").WithAttr("type", "submit")
	toolbar.Results[platformActionButtonSelector] = []browser.Element{submit}
	input.ClosestMap[platformActionContainerSelector] = toolbar

	point, ok := FindInsertionPoint(InputHandle{Element: input, Key: "k"})
	require.True(t, ok)
	assert.Equal(t, toolbar, point.Container)
	assert.Equal(t, submit, point.Reference)
	assert.Equal(t, PositionAfterReference, point.Position)
}

func TestFindInsertionPointToolbarWithoutSubmit(t *testing.T) {
	input := browsertest.NewFakeElement("textarea")
	toolbar := browsertest.NewFakeElement("div")
	input.ClosestMap[platformActionContainerSelector] = toolbar

	point, ok := FindInsertionPoint(InputHandle{Element: input, Key: "k"})
	require.True(t, ok)
	assert.Equal(t, toolbar, point.Container)
	assert.Equal(t, PositionFirstChild, point.Position)
}

func TestFindInsertionPointFormActions(t *testing.T) {
	input := browsertest.NewFakeElement("textarea")
	form := browsertest.NewFakeElement("form")
	actions := browsertest.NewFakeElement("div")
	form.Results[formActionContainerSelector] = []browser.Element{actions}
	input.ClosestMap["form"] = form

	point, ok := FindInsertionPoint(InputHandle{Element: input, Key: "k"})
	require.True(t, ok)
	assert.Equal(t, actions, point.Container)
	assert.Equal(t, PositionAppend, point.Position)
}

func TestFindInsertionPointParentFallback(t *testing.T) {
	input := browsertest.NewFakeElement("textarea")
	parent := browsertest.NewFakeElement("div")
	input.ParentEl = parent

	point, ok := FindInsertionPoint(InputHandle{Element: input, Key: "k"})
	require.True(t, ok)
	assert.Equal(t, parent, point.Container)
	assert.Equal(t, input, point.Reference)
	assert.Equal(t, PositionAfterReference, point.Position)
}

func TestFindInsertionPointNoParent(t *testing.T) {
	input := browsertest.NewFakeElement("textarea")

	point, ok := FindInsertionPoint(InputHandle{Element: input, Key: "k"})
	assert.False(t, ok)
	assert.Nil(t, point)
}
