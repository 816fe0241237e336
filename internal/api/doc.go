// Package api 暴露意图执行的 REST 接口，是本服务自身的调用面。
package api
