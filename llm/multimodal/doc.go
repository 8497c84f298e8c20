// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 multimodal 负责把任意编码的截图与参考图归一化为可发送给推理模型的图片片段。

# 概述

输入可以是内存中的 image.Image、data URI 或裸 base64 字符串（允许缺少
填充），也可以是本地文件路径。所有图片先解码为位图，统一提升为不含透明
通道的 8 位真彩色，再以 JPEG 重新编码并 base64 化。重新编码是有损的，调用
方不能假设字节级往返一致。

# 核心接口

  - ImageRef：图片引用，FromImage / FromEncoded / FromFile 三种构造方式。
  - DecodeBase64Image：去掉 data URI 前缀、补齐填充并解码。
  - Normalizer：Normalize / EncodeJPEGBase64 / ImagePart。

解码失败返回 IMAGE_DECODE 错误（types.NewDecodeError），不会用占位图替代。
解码前先读取图片头，宽 × 高超过 MaxPixels 的图片直接拒绝。

# 文件引用

FromFile 的路径相对 VisionConfig.ReferenceDir 解析，经 os.Root 打开。
目录未配置、路径越界、非普通文件或超过 MaxFileBytes 时返回 INVALID_REQUEST。
*/
package multimodal
