package internal

import "io"

// ReadN 精准地读取 len(data) 个字节, 否则返回错误
// reads exactly len(data) bytes, otherwise returns an error
func ReadN(reader io.Reader, data []byte) error {
	_, err := io.ReadFull(reader, data)
	return err
}

// WriteN 将 content 写入 writer 中
// writes the content to the writer
func WriteN(writer io.Writer, content []byte) error {
	_, err := writer.Write(content)
	return err
}
