package registry

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"titipanq-admin/internal/photo"

	"github.com/go-resty/resty/v2"
)

// multipartBody 字段按 key 排序，同名字段（package_ids）保持传入顺序；file 为 nil 时不带文件。
// 每次调用都创建新的 reader，401 重试时可以重新构建请求体。
func multipartBody(values url.Values, fileField string, file *photo.Payload) prepareFunc {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return func(r *resty.Request) {
		for _, k := range keys {
			for _, v := range values[k] {
				r.SetMultipartField(k, "", "", strings.NewReader(v))
			}
		}
		if file != nil {
			r.SetMultipartField(fileField, file.Name, file.ContentType, bytes.NewReader(file.Data))
		}
	}
}
