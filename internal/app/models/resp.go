package models

// RespValue 统一响应结构
type RespValue struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Err  string      `json:"err,omitempty"`
	Data interface{} `json:"data"`
}

type RespInfo struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
