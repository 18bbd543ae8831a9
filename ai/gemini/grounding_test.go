package gemini

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/ai"
)

func TestBuildToolsAppendsGoogleSearch(t *testing.T) {
	c := &Client{cfg: &ai.Config{EnableSearchGrounding: true}}
	req := &ai.GenerateRequest{Tools: []ai.ToolSpec{{Name: "recall_memories"}}}

	tools := c.buildTools(req)
	require.Len(t, tools, 2)
	assert.Len(t, tools[0].FunctionDeclarations, 1)
	assert.NotNil(t, tools[1].GoogleSearch)
}

func TestBuildToolsFiltersRejectedGrounding(t *testing.T) {
	c := &Client{cfg: &ai.Config{EnableSearchGrounding: true}}
	req := &ai.GenerateRequest{Tools: []ai.ToolSpec{{Name: "recall_memories"}}}

	// Once the server has rejected grounding, the tool stays filtered while
	// function declarations survive.
	c.searchGroundingUnsupported.Store(true)
	tools := c.buildTools(req)
	require.Len(t, tools, 1)
	assert.Nil(t, tools[0].GoogleSearch)
	assert.Len(t, tools[0].FunctionDeclarations, 1)
}

func TestBuildToolsGroundingDisabled(t *testing.T) {
	c := &Client{cfg: &ai.Config{}}
	assert.Empty(t, c.buildTools(&ai.GenerateRequest{}))
}

func TestIsSearchGroundingError(t *testing.T) {
	assert.True(t, isSearchGroundingError(
		errors.New("400: Search Grounding is not supported for this model")))
	assert.False(t, isSearchGroundingError(errors.New("429 RESOURCE_EXHAUSTED")))
	assert.False(t, isSearchGroundingError(nil))
}
