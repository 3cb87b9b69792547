package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 1234567..89abcde 100644
--- a/main.go
+++ b/main.go
@@ -10,3 +10,4 @@ func main() {
 	fmt.Println("hi")
+	fmt.Println("bye")
 }
diff --git a/util.go b/util.go
index abcdef1..2345678 100644
--- a/util.go
+++ b/util.go
@@ -1,2 +1,2 @@
-old line
+new line
`

func TestParseUnifiedDiffSplitsFiles(t *testing.T) {
	files, err := ParseUnifiedDiff(sampleDiff)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "main.go", files[0].FilePath)
	require.Len(t, files[0].Hunks, 1)
	assert.Equal(t, 10, files[0].Hunks[0].OldStart)
	assert.Equal(t, 4, files[0].Hunks[0].NewLines)

	assert.Equal(t, "util.go", files[1].FilePath)
	require.Len(t, files[1].Hunks, 1)
	assert.Equal(t, 1, files[1].Hunks[0].OldStart)
	assert.Equal(t, 2, files[1].Hunks[0].OldLines)
}

func TestParseUnifiedDiffRejectsHunkWithoutFile(t *testing.T) {
	_, err := ParseUnifiedDiff("@@ -1,2 +1,2 @@\n-a\n+b\n")
	assert.Error(t, err)
}

func TestParseUnifiedDiffEmpty(t *testing.T) {
	files, err := ParseUnifiedDiff("")
	require.NoError(t, err)
	assert.Empty(t, files)
}
