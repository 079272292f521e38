package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatNanos(t *testing.T) {
	assert.Equal(t, "-", formatNanos(0))

	ts := time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-02T10:00:00Z", formatNanos(ts.UnixNano()))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "STATUS"}, [][]string{
		{"a1b2c3d4", "synced"},
		{"e5", "conflict"},
	})

	want := "ID        STATUS  \n" +
		"a1b2c3d4  synced  \n" +
		"e5        conflict\n"
	assert.Equal(t, want, buf.String())
}

func TestPrintTableEmptyRows(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"A", "B"}, nil)
	assert.Equal(t, "A  B\n", buf.String())
}
