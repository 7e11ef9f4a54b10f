// Package artifact persists ingestion by-products: the original
// document, per-page artifacts, extracted figures, per-document
// manifests and run summaries.
package artifact

import (
	"fmt"
	"path"
	"time"
)

// Layout of the artifact tree, shared by every store implementation:
//
//	documents/<sourcefile>            original bytes
//	<sourcefile>/page-0001.<ext>      per-page artifact
//	<sourcefile>/figure_<id>.<ext>    extracted figure
//	<sourcefile>/manifest.json        per-document manifest
//	status/run-<stamp>.json           run summary

func DocumentPath(sourcefile string) string {
	return path.Join("documents", sourcefile)
}

func PagePath(sourcefile string, pageNum int, ext string) string {
	return path.Join(sourcefile, fmt.Sprintf("page-%04d.%s", pageNum, ext))
}

func FigurePath(sourcefile, figureID, ext string) string {
	return path.Join(sourcefile, fmt.Sprintf("figure_%s.%s", figureID, ext))
}

func ManifestPath(sourcefile string) string {
	return path.Join(sourcefile, "manifest.json")
}

// DocumentPrefix is the prefix under which all per-document artifacts
// live; deleting it removes everything but the original bytes.
func DocumentPrefix(sourcefile string) string {
	return sourcefile + "/"
}

func RunSummaryPath(startedAt time.Time) string {
	return path.Join("status", "run-"+startedAt.UTC().Format("20060102T150405Z")+".json")
}
