package campaign

import (
	"encoding/base64"
	"encoding/json"

	"campaignkit/pkg/errx"
)

// EncodeLinkageFields 把关联字段编码为 Base64(JSON) 请求头值
func EncodeLinkageFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", errx.New(errx.CodeRequiredFieldMissing, "关联字段为空")
	}
	// 字段名由调用方任意给定，可能含点号等路径字符，走通用序列化
	data, err := json.Marshal(fields)
	if err != nil {
		return "", errx.Wrap(errx.CodeRequiredFieldMissing, err, "关联字段序列化失败")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeLinkageFields 还原 Base64(JSON) 请求头值为关联字段
func DecodeLinkageFields(encoded string) (map[string]string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errx.Wrap(errx.CodeRequiredFieldMissing, err, "关联字段不是合法的 Base64")
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errx.Wrap(errx.CodeRequiredFieldMissing, err, "关联字段不是合法的 JSON")
	}
	return fields, nil
}
