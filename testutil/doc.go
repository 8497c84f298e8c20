/*
Package testutil 提供 WebJudge 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockProvider，支持固定响应、按请求路由响应、错误序列注入
  - testutil/fixtures: 截图与评测请求样例（PNG base64、ChatResponse）

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("Status: success")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
