package svc

import "errors"

// ErrNoFeedsEnabled 错误：没有可用的数据源连接器
var ErrNoFeedsEnabled = errors.New("no price feeds enabled")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
