package httpapi

// displayPageHTML 显示端页面：连接 /ws，收到 {"falling":bool} 切换红/绿
const displayPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Fall Detection</title>
    <style>
        html, body {
            margin: 0;
            padding: 0;
            width: 100vw;
            height: 100vh;
            display: flex;
            justify-content: center;
            align-items: center;
            font-family: Arial, sans-serif;
            font-size: 8vw;
            text-transform: uppercase;
            transition: background-color 0.2s, color 0.2s;
            background-color: #4CAF50;
            color: #f0f0f0;
        }
    </style>
    <script>
        function render(falling) {
            document.body.style.backgroundColor = falling ? '#d62828' : '#4CAF50';
            document.body.style.color = falling ? '#ffffff' : '#f0f0f0';
            document.body.textContent = falling ? 'FALL' : 'STABLE';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(scheme + location.host + '/ws');
            ws.onmessage = function (msg) {
                const data = JSON.parse(msg.data);
                render(data.falling);
            };
            ws.onclose = function () {
                setTimeout(connect, 1000);
            };
        }

        document.addEventListener('DOMContentLoaded', connect);
    </script>
</head>
<body>
    STABLE
</body>
</html>
`
