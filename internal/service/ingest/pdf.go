package ingest

import (
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// checkPDF parses rs far enough to count pages and rewinds it.
func checkPDF(rs io.ReadSeeker) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(rs, conf)
	if _, serr := rs.Seek(0, io.SeekStart); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}
