package crawlers

import (
	"github.com/RecoveryAshes/apisession/internal/models"
)

// BuildParams 构建请求实际发送给API的参数
// 返回nil表示请求不经过API,直接抓取目标URL
//
// 优先级:
//  1. 显式参数 (api 元数据): 原样使用,只补充url
//  2. 自动映射 (api_automap 元数据或透明模式): 默认抓取原始响应体和响应头部,
//     请求 browserHtml 时去掉这两个默认值,覆盖中值为nil的键被删除
//  3. api_automap 为 false 或非透明模式下未指定参数: 直接抓取
func BuildParams(req *models.Request, transparent bool) models.Params {
	if params, ok := req.ParamsMeta(models.MetaAPI); ok {
		out := params.Clone()
		out[models.ParamURL] = req.URL
		return out
	}

	automap, hasAutomap := req.Meta[models.MetaAutomap]
	if automap == false || (!hasAutomap && !transparent) {
		return nil
	}

	overrides, _ := req.ParamsMeta(models.MetaAutomap)
	out := models.Params{
		models.ParamURL:              req.URL,
		models.ParamHTTPResponseBody: true,
		models.ParamHTTPRespHeaders:  true,
	}
	if v, _ := overrides[models.ParamBrowserHTML].(bool); v {
		delete(out, models.ParamHTTPResponseBody)
		delete(out, models.ParamHTTPRespHeaders)
	}
	for k, v := range overrides.Clone() {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	out[models.ParamURL] = req.URL
	return out
}
