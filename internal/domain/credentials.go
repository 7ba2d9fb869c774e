package domain

import "strings"

// Credentials 交易场所登录凭证。只从外部配置读取，禁止硬编码。
type Credentials struct {
	Email         string
	Password      string
	TwoFactorCode string // 可选
}

// Complete 邮箱与密码都存在时返回 true
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Email) != "" && c.Password != ""
}

// String 不输出密码
func (c Credentials) String() string {
	return "Credentials{email=" + c.Email + "}"
}
