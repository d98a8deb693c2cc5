package methods

import "encoding/json"

// MergeMaps 合并两个map, override 中的键覆盖 base
func MergeMaps(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// MergeJSON 合并两个JSON对象文档, 空文档或非对象按空map处理
func MergeJSON(base, override []byte) map[string]interface{} {
	return MergeMaps(JSONObject(base), JSONObject(override))
}

// JSONObject 把JSON对象解析为map, 失败时返回空map
func JSONObject(data []byte) map[string]interface{} {
	m := map[string]interface{}{}
	if len(data) == 0 {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]interface{}{}
	}
	return m
}
