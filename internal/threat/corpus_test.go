package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfTest_DefaultDetectorBlocksCorpus(t *testing.T) {
	d := newTestDetector(t, Options{})
	rep := SelfTest(d)

	require.Len(t, rep.Categories, len(Corpus()))
	for _, c := range rep.Categories {
		assert.Truef(t, c.Passed(), "%s missed: %v", c.Name, c.Missed)
	}
	assert.Empty(t, rep.FalsePositives)
	assert.True(t, rep.Passed())
}

func TestReport_Passed(t *testing.T) {
	assert.False(t, Report{FalsePositives: []string{"x"}}.Passed())
	assert.False(t, Report{Categories: []CategoryResult{{Total: 2, Blocked: 1}}}.Passed())
	assert.True(t, Report{Categories: []CategoryResult{{Total: 2, Blocked: 2}}}.Passed())
}
