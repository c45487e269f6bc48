// Copyright (c) waveflow Authors.
// Licensed under the MIT License.

/*
包 browser 为 browser_use 步骤提供浏览器自动化能力。

# 概述

ChromeAutomation 实现 workflow.BrowserAutomation：首次使用时通过
BrowserFactory 启动浏览器，之后所有命令串行发送到同一个页面，
因此相邻步骤共享页面状态（先导航、再点击、再读取）。

# 任务语法

Act 接收一行任务文本，由 ParseTask 解析：

  - click <selector> / wait <selector> / extract <selector>
  - type <selector> <text>
  - screenshot：写入 screenshot_dir 下的 PNG，返回绝对路径
  - read：用 go-readability 提取正文，再用 bluemonday 清洗
  - back / reload

无法识别的任务按 read 处理。

# 内置实现

ChromeDPDriver 与 ChromeDPBrowser 基于 chromedp 驱动 Headless Chrome，
支持代理与自定义 UserAgent。
*/
package browser
