package service

import "github.com/provalivre/exam-engine/internal/response"

// pageWindow clamps page/perPage and returns the matching LIMIT and OFFSET.
func pageWindow(page, perPage int) (p, pp, limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage, perPage, (page - 1) * perPage
}

func newPagination(page, perPage, total int) *response.Pagination {
	return response.NewPagination(page, perPage, total)
}
