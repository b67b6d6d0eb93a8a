package artifact_test

import (
	"testing"

	"github.com/gridsight/utility-bill-worker/internal/artifact"
)

func TestSet_SequenceNaming(t *testing.T) {
	set := artifact.NewSet()
	set.Add(artifact.KindScreenshot, "png", []byte("img1"))
	set.Add(artifact.KindScreenshot, "png", []byte("img2"))
	set.Add(artifact.KindHTML, "html", []byte("<html/>"))

	items := set.Items()
	if len(items) != 3 {
		t.Fatalf("Expected 3 artifacts, got %d", len(items))
	}

	if items[0].Name != "0001.png" {
		t.Errorf("Expected first screenshot 0001.png, got %s", items[0].Name)
	}
	if items[1].Name != "0002.png" {
		t.Errorf("Expected second screenshot 0002.png, got %s", items[1].Name)
	}
	// Sequence is per kind, not global
	if items[2].Name != "0001.html" {
		t.Errorf("Expected first html snapshot 0001.html, got %s", items[2].Name)
	}
}

func TestKey_Layout(t *testing.T) {
	set := artifact.NewSet()
	set.Add(artifact.KindDownload, "pdf", []byte("bill"))

	key := artifact.Key("run-42", set.Items()[0])
	if key != "run-42/downloads/0001.pdf" {
		t.Errorf("Expected run-42/downloads/0001.pdf, got %s", key)
	}
}

func TestKey_DeterministicAcrossSets(t *testing.T) {
	build := func() string {
		set := artifact.NewSet()
		set.Add(artifact.KindArchive, "json", []byte(`{"cost":180}`))
		return artifact.Key("run-7", set.Items()[0])
	}

	if build() != build() {
		t.Error("Expected identical keys for identical capture sequences")
	}
}
