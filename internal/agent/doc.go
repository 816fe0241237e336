// Package agent 是意图执行编排层：解析意图、按访问档位与安全策略
// 把关、构建并签名链上指令、带重试提交，最终产出统一的执行结果。
// 拒绝与等待确认都是一等数据结果，不走错误通道。
package agent
