package paginate

import (
	"github.com/Jeffail/gabs/v2"
)

// itemWrapperKeys is the ranked list of object keys known to wrap an item
// array. The first key holding an array wins.
var itemWrapperKeys = []string{"data", "items", "results", "records", "value", "entries", "rows"}

// ExtractItems locates the item array in a response body. The body may be
// the array itself or an object wrapping it under a known key. When no array
// is found the page has zero items.
func ExtractItems(body []byte) []any {
	c, err := gabs.ParseJSON(body)
	if err != nil {
		return nil
	}
	return extractItemsContainer(c)
}

func extractItemsContainer(c *gabs.Container) []any {
	if arr, ok := c.Data().([]any); ok {
		return arr
	}
	for _, key := range itemWrapperKeys {
		if v := c.Path(key); v != nil {
			if arr, ok := v.Data().([]any); ok {
				return arr
			}
		}
	}
	return nil
}
