package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsInPlanning(t *testing.T) {
	st := New("hello world CLI")
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, PhasePlanning, st.Phase)
	assert.Empty(t, st.History)
	assert.NotNil(t, st.RetryCounters)
	assert.True(t, st.Consistent())
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(" Testing ")
	require.NoError(t, err)
	assert.Equal(t, PhaseTesting, p)

	_, err = ParsePhase("review")
	assert.Error(t, err)
}

func TestPhase_IsTerminal(t *testing.T) {
	for _, p := range WorkPhases {
		assert.False(t, p.IsTerminal(), p)
	}
	assert.True(t, PhaseDone.IsTerminal())
	assert.True(t, PhaseFailed.IsTerminal())
	assert.False(t, Phase("bogus").Valid())
}

func TestLoop(t *testing.T) {
	assert.Equal(t, LoopKey("testing→development"), Loop(PhaseTesting, PhaseDevelopment))
}

func TestClone_IsDeep(t *testing.T) {
	st := New("r")
	st.ArchitectureDocument = &Document{Title: "arch", Sections: map[string]string{"db": "sqlite"}, TechStack: []string{"go"}}
	st.UpsertCodeFile(CodeFile{Path: "main.go", Content: "package main"})
	st.TestResults = &TestResults{Failed: 1, FailingCases: []string{"TestA"}}
	st.RetryCounters[Loop(PhaseTesting, PhaseDevelopment)] = 1
	st.MoveTo(PhaseDevelopment, "architecture accepted", time.Now())

	c := st.Clone()
	c.ArchitectureDocument.Sections["db"] = "postgres"
	c.ArchitectureDocument.TechStack[0] = "rust"
	c.CodeFiles[0].Content = "changed"
	c.TestResults.FailingCases[0] = "TestB"
	c.RetryCounters[Loop(PhaseTesting, PhaseDevelopment)] = 2
	c.MoveTo(PhaseTesting, "code accepted", time.Now())

	assert.Equal(t, "sqlite", st.ArchitectureDocument.Sections["db"])
	assert.Equal(t, "go", st.ArchitectureDocument.TechStack[0])
	assert.Equal(t, "package main", st.CodeFiles[0].Content)
	assert.Equal(t, "TestA", st.TestResults.FailingCases[0])
	assert.Equal(t, 1, st.RetryCounters[Loop(PhaseTesting, PhaseDevelopment)])
	assert.Len(t, st.History, 1)
	assert.Equal(t, PhaseDevelopment, st.Phase)
}

func TestUpsertCodeFile_KeepsOrder(t *testing.T) {
	st := New("r")
	st.UpsertCodeFile(CodeFile{Path: "a.go", Content: "1"})
	st.UpsertCodeFile(CodeFile{Path: "b.go", Content: "1"})
	st.UpsertCodeFile(CodeFile{Path: "a.go", Content: "2"})

	require.Len(t, st.CodeFiles, 2)
	assert.Equal(t, "a.go", st.CodeFiles[0].Path)
	assert.Equal(t, "2", st.CodeFiles[0].Content)
	assert.Equal(t, "b.go", st.CodeFiles[1].Path)
}

func TestRemoveCodeFile(t *testing.T) {
	st := New("r")
	for _, p := range []string{"a.go", "b.go", "c.go"} {
		st.UpsertCodeFile(CodeFile{Path: p, Content: "x"})
	}

	assert.True(t, st.RemoveCodeFile("b.go"))
	assert.False(t, st.RemoveCodeFile("b.go"))
	require.Len(t, st.CodeFiles, 2)
	assert.Equal(t, "a.go", st.CodeFiles[0].Path)
	assert.Equal(t, "c.go", st.CodeFiles[1].Path)
}

func TestLoopBacksAndConsistency(t *testing.T) {
	st := New("r")
	now := time.Now()
	st.MoveTo(PhaseDevelopment, "", now)
	st.MoveTo(PhaseTesting, "", now)
	st.MoveTo(PhaseDevelopment, "tests failed", now)
	st.MoveTo(PhaseTesting, "", now)

	assert.Equal(t, 1, st.LoopBacks(PhaseTesting, PhaseDevelopment))
	assert.Equal(t, 2, st.LoopBacks(PhaseDevelopment, PhaseTesting))
	assert.True(t, st.Consistent())

	st.Phase = PhaseDone
	assert.False(t, st.Consistent())
}

func TestTestResults_Feedback(t *testing.T) {
	var none *TestResults
	assert.False(t, none.AllPassed())
	assert.Empty(t, none.Feedback())

	ok := &TestResults{Passed: 3}
	assert.True(t, ok.AllPassed())
	assert.Empty(t, ok.Feedback())

	bad := &TestResults{Passed: 1, Failed: 2, FailingCases: []string{"TestA", "TestB"}}
	assert.Equal(t, "2 test(s) failed: TestA, TestB", bad.Feedback())
}
