/*
Package npz 以 NPZ 容器读写事件归档, 与 numpy 的 savez_compressed/load 互通。

归档是一个 ZIP 文件, 事件流的每一列对应一个 NPY 成员:

	+-------+-------+-------+-------+
	| t.npy | x.npy | y.npy | p.npy |
	+-------+-------+-------+-------+

	t.npy  <f8  秒级时间戳
	x.npy  <u2  横坐标
	y.npy  <u2  纵坐标
	p.npy  |i1  极性 (+1/-1)

每个 NPY 成员为 1.0 版布局, 头部以空格补齐至 64 字节边界:

	NPY member:
	+-----------------+---------------+----------------+-------------------------+-------------+
	| magic (6 bytes) | ver (2 bytes) | hlen (2 bytes) | dict + padding + \n     | raw LE data |
	+-----------------+---------------+----------------+-------------------------+-------------+

成员数据采用 DEFLATE 压缩。读取时校验四个成员齐全且等长,
缺列或截断的文件一律拒绝, 半途中断的写入不会产生可读归档。
*/
package npz
