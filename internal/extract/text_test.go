package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "virtual machine", Key("  Virtual\n MACHINE "))
}

func TestSentences(t *testing.T) {
	got := Sentences("First one. Second one!\n\nThird\fFourth?")
	assert.Equal(t, []string{"First one", "Second one", "Third", "Fourth?"}, got)
	assert.Empty(t, Sentences("  "))
}

func TestPhrases(t *testing.T) {
	got := phrases("The CPU executes machine instructions, and the kernel schedules them", 3)
	assert.Equal(t, [][]string{
		{"CPU", "executes", "machine"},
		{"instructions"},
		{"kernel", "schedules"},
	}, got)
}

func TestContainsFold(t *testing.T) {
	assert.True(t, containsFold("The Virtual Machine runs.", "virtual machine"))
	assert.False(t, containsFold("Virtualization is broad.", "virtual"))
	assert.True(t, containsFold("kernel", "kernel"))
	assert.False(t, containsFold("anything", ""))
}
